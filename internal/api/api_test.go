package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

type envelope struct {
	Data    jsonRaw `json:"data"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

type jsonRaw []byte

func (r *jsonRaw) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func setupServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return NewServer(st, logger.Discard()), st
}

func do(t *testing.T, s *Server, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func decode(t *testing.T, raw jsonRaw, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Failed to decode data %s: %v", raw, err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)

	code, env := do(t, s, http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var body map[string]string
	decode(t, env.Data, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestDevices_CRUD(t *testing.T) {
	s, _ := setupServer(t)

	code, env := do(t, s, http.MethodPost, "/api/devices", `{"id":"d1","name":"Laptop","type":"desktop"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", code, env.Message)
	}

	code, env = do(t, s, http.MethodPost, "/api/devices", `{"id":"d1","name":"Again"}`)
	if code != http.StatusConflict || env.Error != "DEVICE_EXISTS" {
		t.Errorf("duplicate: expected 409 DEVICE_EXISTS, got %d %s", code, env.Error)
	}

	code, env = do(t, s, http.MethodPatch, "/api/devices/d1", `{"name":"Work Laptop"}`)
	if code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", code)
	}
	var d store.Device
	decode(t, env.Data, &d)
	if d.Name != "Work Laptop" || d.Type != store.DeviceDesktop {
		t.Errorf("patch should merge shallowly, got %+v", d)
	}

	code, env = do(t, s, http.MethodGet, "/api/devices/d1", "")
	if code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	decode(t, env.Data, &d)
	if d.ID != "d1" || d.Name != "Work Laptop" {
		t.Errorf("unexpected device %+v", d)
	}

	if code, _ = do(t, s, http.MethodDelete, "/api/devices/d1", ""); code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", code)
	}
	code, env = do(t, s, http.MethodGet, "/api/devices/d1", "")
	if code != http.StatusNotFound || env.Error != "DEVICE_NOT_FOUND" {
		t.Errorf("get after delete: expected 404 DEVICE_NOT_FOUND, got %d %s", code, env.Error)
	}
}

func TestDevices_Validation(t *testing.T) {
	s, _ := setupServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing id", `{"name":"x"}`, http.StatusBadRequest},
		{"missing name", `{"id":"d1"}`, http.StatusBadRequest},
		{"bad type", `{"id":"d1","name":"x","type":"fridge"}`, http.StatusBadRequest},
		{"malformed", `{"id":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := do(t, s, http.MethodPost, "/api/devices", tt.body); code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, code)
			}
		})
	}
}

func TestDevices_List(t *testing.T) {
	s, st := setupServer(t)
	ctx := context.Background()

	online := true
	room := "abc"
	for _, d := range []store.Device{
		{ID: "d1", Name: "one", Network: "10.0.0.0/24"},
		{ID: "d2", Name: "two", Network: "10.0.0.0/24"},
		{ID: "d3", Name: "three", Network: "192.168.1.0/24"},
	} {
		if _, err := st.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice failed: %v", err)
		}
	}
	if _, err := st.UpdateDevice(ctx, "d1", store.DevicePatch{RoomID: &room, IsOnline: &online}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpdateDevice(ctx, "d3", store.DevicePatch{IsOnline: &online}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?roomId=abc", 1},
		{"?roomId=", 2},
		{"?network=10.0.0.0/24", 2},
		{"", 2},
	}

	for _, tt := range tests {
		code, env := do(t, s, http.MethodGet, "/api/devices"+tt.query, "")
		if code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, code)
		}
		var devices []store.Device
		decode(t, env.Data, &devices)
		if len(devices) != tt.want {
			t.Errorf("%q: expected %d devices, got %d", tt.query, tt.want, len(devices))
		}
	}
}

func TestRooms(t *testing.T) {
	s, _ := setupServer(t)

	code, env := do(t, s, http.MethodPost, "/api/rooms", `{"id":"abc","name":"Team","password":"secret"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", code, env.Message)
	}
	var room store.Room
	decode(t, env.Data, &room)
	if !room.Protected || room.Name != "Team" {
		t.Errorf("unexpected room %+v", room)
	}
	if strings.Contains(string(env.Data), "secret") {
		t.Error("password must never be serialized")
	}

	if code, env = do(t, s, http.MethodGet, "/api/rooms/abc", ""); code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", code)
	}
	if code, env = do(t, s, http.MethodGet, "/api/rooms?name=Team", ""); code != http.StatusOK {
		t.Errorf("by name: expected 200, got %d", code)
	}
	if code, env = do(t, s, http.MethodGet, "/api/rooms?name=Nope", ""); code != http.StatusNotFound || env.Error != "ROOM_NOT_FOUND" {
		t.Errorf("missing name: expected 404 ROOM_NOT_FOUND, got %d %s", code, env.Error)
	}
	if code, _ = do(t, s, http.MethodGet, "/api/rooms", ""); code != http.StatusBadRequest {
		t.Errorf("no name: expected 400, got %d", code)
	}
}

func TestTransfers_IDSurvivesFloatDecoding(t *testing.T) {
	s, _ := setupServer(t)

	code, env := do(t, s, http.MethodPost, "/api/transfers",
		`{"fromDeviceId":"d1","toDeviceId":"d2","messageText":"hi"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", code, env.Message)
	}

	// decode the way a JavaScript client would: numbers become float64
	var generic map[string]interface{}
	decode(t, env.Data, &generic)
	raw, ok := generic["id"].(string)
	if !ok {
		t.Fatalf("expected id as a JSON string, got %T %v", generic["id"], generic["id"])
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("id %q is not an integer: %v", raw, err)
	}

	code, env = do(t, s, http.MethodGet, "/api/transfers/"+raw, "")
	if code != http.StatusOK {
		t.Fatalf("get by string id: expected 200, got %d", code)
	}
	var tr store.Transfer
	decode(t, env.Data, &tr)
	if tr.ID != id {
		t.Errorf("expected id %d, got %d", id, tr.ID)
	}
}

func TestTransfers_Lifecycle(t *testing.T) {
	s, _ := setupServer(t)

	code, env := do(t, s, http.MethodPost, "/api/transfers",
		`{"fromDeviceId":"d1","toDeviceId":"d2","fileName":"report.pdf","fileSize":32900}`)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", code, env.Message)
	}
	var tr store.Transfer
	decode(t, env.Data, &tr)
	if tr.Status != store.TransferPending || tr.ID == 0 {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	path := "/api/transfers/" + strconv.FormatInt(tr.ID, 10)

	code, env = do(t, s, http.MethodPatch, path, `{"status":"accepted","progress":50}`)
	if code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d (%s)", code, env.Message)
	}
	decode(t, env.Data, &tr)
	if tr.Status != store.TransferAccepted || tr.Progress != 50 {
		t.Errorf("unexpected transfer after patch %+v", tr)
	}

	code, env = do(t, s, http.MethodPatch, path, `{"progress":10}`)
	if code != http.StatusConflict || env.Error != "PROGRESS_REGRESSION" {
		t.Errorf("regression: expected 409 PROGRESS_REGRESSION, got %d %s", code, env.Error)
	}

	if code, _ = do(t, s, http.MethodPatch, path, `{"progress":101}`); code != http.StatusBadRequest {
		t.Errorf("out of range: expected 400, got %d", code)
	}
	if code, _ = do(t, s, http.MethodPatch, path, `{"status":"lost"}`); code != http.StatusBadRequest {
		t.Errorf("bad status: expected 400, got %d", code)
	}

	if code, _ = do(t, s, http.MethodGet, path, ""); code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", code)
	}
	if code, _ = do(t, s, http.MethodGet, "/api/transfers/abc", ""); code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", code)
	}
	if code, _ = do(t, s, http.MethodGet, "/api/transfers/42", ""); code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", code)
	}
}

func TestTransfers_Validation(t *testing.T) {
	s, _ := setupServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"no endpoints", `{"fileName":"a"}`, http.StatusBadRequest},
		{"no payload", `{"fromDeviceId":"d1","toDeviceId":"d2"}`, http.StatusBadRequest},
		{"message only", `{"fromDeviceId":"d1","toDeviceId":"d2","messageText":"hi"}`, http.StatusCreated},
		{"expiry in past", `{"fromDeviceId":"d1","toDeviceId":"d2","fileName":"a","expiresAt":"2000-01-01T00:00:00Z"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := do(t, s, http.MethodPost, "/api/transfers", tt.body); code != tt.code {
				t.Errorf("expected %d, got %d (%s)", tt.code, code, env.Message)
			}
		})
	}
}

func TestDeviceTransfers_HidesExpired(t *testing.T) {
	s, st := setupServer(t)
	ctx := context.Background()

	later := time.Now().Add(time.Hour)
	live, err := st.CreateTransfer(ctx, store.Transfer{FromDeviceID: "d1", ToDeviceID: "d2", FileName: "live.txt"})
	if err != nil {
		t.Fatal(err)
	}
	gone, err := st.CreateTransfer(ctx, store.Transfer{FromDeviceID: "d2", ToDeviceID: "d1", FileName: "gone.txt", ExpiresAt: &later})
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	code, env := do(t, s, http.MethodGet, "/api/devices/d1/transfers", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var active []store.Transfer
	decode(t, env.Data, &active)
	if len(active) != 1 || active[0].ID != live.ID {
		t.Errorf("expected only the live transfer, got %+v", active)
	}

	_, env = do(t, s, http.MethodGet, "/api/devices/d1/transfers?includeExpired=true", "")
	var all []store.Transfer
	decode(t, env.Data, &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(all))
	}
	for _, tr := range all {
		if tr.ID == gone.ID && !tr.IsExpired {
			t.Error("expired transfer should be marked")
		}
	}
}
