package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

func setupTestStore(t *testing.T, opts ...store.Option) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore(opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestMemoryStore_CreateDevice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDevice(ctx, store.Device{ID: "d1", Name: "laptop", Type: store.DeviceDesktop, IsOnline: true})
	if err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	if d.LastSeen.IsZero() {
		t.Error("expected lastSeen to be set")
	}

	if _, err := s.CreateDevice(ctx, store.Device{ID: "d1"}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, err := s.CreateDevice(ctx, store.Device{ID: "d2", Type: "toaster"}); !errors.Is(err, store.ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice, got %v", err)
	}
	if _, err := s.CreateDevice(ctx, store.Device{}); !errors.Is(err, store.ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice for missing id, got %v", err)
	}
}

func TestMemoryStore_UpdateDevice_ShallowMerge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateDevice(ctx, store.Device{ID: "d1", Name: "laptop", Type: store.DeviceDesktop, RoomID: "abc", Network: "10.0.0.0/24"})

	d, err := s.UpdateDevice(ctx, "d1", store.DevicePatch{Name: strPtr("work laptop")})
	if err != nil {
		t.Fatalf("UpdateDevice failed: %v", err)
	}
	if d.Name != "work laptop" {
		t.Errorf("expected name 'work laptop', got %q", d.Name)
	}
	if d.RoomID != "abc" || d.Network != "10.0.0.0/24" || d.Type != store.DeviceDesktop {
		t.Errorf("untouched fields changed: %+v", d)
	}

	if _, err := s.UpdateDevice(ctx, "missing", store.DevicePatch{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_UpsertDevice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mobile := store.DeviceMobile
	d, created, err := s.UpsertDevice(ctx, "d1", store.DevicePatch{Type: &mobile})
	if err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if !created {
		t.Error("expected device to be created")
	}
	if d.Type != store.DeviceMobile || d.Name != "d1" {
		t.Errorf("unexpected device %+v", d)
	}

	_, created, err = s.UpsertDevice(ctx, "d1", store.DevicePatch{Name: strPtr("phone")})
	if err != nil {
		t.Fatalf("second UpsertDevice failed: %v", err)
	}
	if created {
		t.Error("expected existing device to be updated")
	}

	got, _ := s.GetDevice(ctx, "d1")
	if got.Name != "phone" || got.Type != store.DeviceMobile {
		t.Errorf("unexpected device %+v", got)
	}
}

func TestMemoryStore_ListDevices(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateDevice(ctx, store.Device{ID: "a", RoomID: "abc", Network: "n1", IsOnline: true})
	_, _ = s.CreateDevice(ctx, store.Device{ID: "b", RoomID: "abc", Network: "n2"})
	_, _ = s.CreateDevice(ctx, store.Device{ID: "c", Network: "n1", IsOnline: true})

	byRoom, _ := s.ListDevicesByRoom(ctx, "abc")
	if len(byRoom) != 2 || byRoom[0].ID != "a" || byRoom[1].ID != "b" {
		t.Errorf("unexpected room listing %+v", byRoom)
	}

	roomless, _ := s.ListDevicesByRoom(ctx, "")
	if len(roomless) != 1 || roomless[0].ID != "c" {
		t.Errorf("unexpected roomless listing %+v", roomless)
	}

	byNetwork, _ := s.ListDevicesByNetwork(ctx, "n1")
	if len(byNetwork) != 2 {
		t.Errorf("expected 2 devices on n1, got %d", len(byNetwork))
	}

	online, _ := s.ListOnlineDevices(ctx)
	if len(online) != 2 || online[0].ID != "a" || online[1].ID != "c" {
		t.Errorf("unexpected online listing %+v", online)
	}
}

func TestMemoryStore_MarkOfflineAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, _ = s.CreateDevice(ctx, store.Device{ID: "d1", IsOnline: true})

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.MarkOffline(ctx, "d1", at); err != nil {
		t.Fatalf("MarkOffline failed: %v", err)
	}
	d, _ := s.GetDevice(ctx, "d1")
	if d.IsOnline || !d.LastSeen.Equal(at) {
		t.Errorf("expected offline at %v, got %+v", at, d)
	}

	if err := s.DeleteDevice(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}
	if _, err := s.GetDevice(ctx, "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_Rooms(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "abc", "Team", "secret")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if !room.Protected {
		t.Error("expected room to be protected")
	}
	if !room.CheckPassword("secret") || room.CheckPassword("wrong") {
		t.Error("password check mismatch")
	}

	byName, err := s.GetRoomByName(ctx, "Team")
	if err != nil || byName.ID != "abc" {
		t.Errorf("GetRoomByName returned %+v, %v", byName, err)
	}

	if _, err := s.CreateRoom(ctx, "abc", "Other", ""); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for id, got %v", err)
	}
	if _, err := s.CreateRoom(ctx, "def", "Team", ""); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for name, got %v", err)
	}

	ensured, created, err := s.EnsureRoom(ctx, "abc", "", "")
	if err != nil || created || ensured.Name != "Team" {
		t.Errorf("EnsureRoom existing returned %+v, %v, %v", ensured, created, err)
	}

	lazy, created, err := s.EnsureRoom(ctx, "xyz", "", "")
	if err != nil || !created || lazy.Name != "xyz" || lazy.Protected {
		t.Errorf("EnsureRoom new returned %+v, %v, %v", lazy, created, err)
	}
	if !lazy.CheckPassword("anything") {
		t.Error("unprotected room should accept any password")
	}

	if _, err := s.GetRoom(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateTransfer(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := setupTestStore(t, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	timer := 60
	tr, err := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b", FileName: "report.pdf", SelfDestructTimer: &timer})
	if err != nil {
		t.Fatalf("CreateTransfer failed: %v", err)
	}
	if tr.ID == 0 {
		t.Error("expected non-zero id")
	}
	if tr.Status != store.TransferPending {
		t.Errorf("expected pending, got %s", tr.Status)
	}
	if tr.ExpiresAt == nil || !tr.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Errorf("expected expiry derived from timer, got %v", tr.ExpiresAt)
	}

	past := now.Add(-time.Second)
	if _, err := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b", ExpiresAt: &past}); !errors.Is(err, store.ErrInvalidExpiry) {
		t.Errorf("expected ErrInvalidExpiry, got %v", err)
	}
	if _, err := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ExpiresAt: &now}); !errors.Is(err, store.ErrInvalidTransfer) {
		t.Errorf("expected ErrInvalidTransfer, got %v", err)
	}
}

func TestMemoryStore_TransferIDsAreMonotonic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 100; i++ {
		tr, err := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b"})
		if err != nil {
			t.Fatalf("CreateTransfer failed: %v", err)
		}
		if tr.ID <= last {
			t.Fatalf("id %d not greater than %d", tr.ID, last)
		}
		last = tr.ID
	}
}

func TestMemoryStore_UpdateTransfer_ProgressMonotonic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tr, _ := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b"})

	progress := 50.0
	updated, err := s.UpdateTransfer(ctx, tr.ID, store.TransferPatch{Progress: &progress})
	if err != nil {
		t.Fatalf("UpdateTransfer failed: %v", err)
	}
	if updated.Progress != 50 {
		t.Errorf("expected progress 50, got %v", updated.Progress)
	}

	lower := 10.0
	if _, err := s.UpdateTransfer(ctx, tr.ID, store.TransferPatch{Progress: &lower}); !errors.Is(err, store.ErrProgressRegression) {
		t.Errorf("expected ErrProgressRegression, got %v", err)
	}

	tooHigh := 101.0
	if _, err := s.UpdateTransfer(ctx, tr.ID, store.TransferPatch{Progress: &tooHigh}); !errors.Is(err, store.ErrInvalidTransfer) {
		t.Errorf("expected ErrInvalidTransfer, got %v", err)
	}

	status := store.TransferCompleted
	updated, err = s.UpdateTransfer(ctx, tr.ID, store.TransferPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateTransfer status failed: %v", err)
	}
	if updated.Status != store.TransferCompleted || updated.Progress != 50 {
		t.Errorf("unexpected transfer %+v", updated)
	}

	if _, err := s.UpdateTransfer(ctx, 42, store.TransferPatch{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListTransfersByDevice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b"})
	second, _ := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "c", ToDeviceID: "a"})
	_, _ = s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "b", ToDeviceID: "c"})

	list, _ := s.ListTransfersByDevice(ctx, "a")
	if len(list) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest first, got %d then %d", list[0].ID, list[1].ID)
	}
}

func TestMemoryStore_ReturnedTransfersAreCopies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	size := int64(10)
	tr, _ := s.CreateTransfer(ctx, store.Transfer{FromDeviceID: "a", ToDeviceID: "b", FileSize: &size})
	*tr.FileSize = 99

	got, _ := s.GetTransfer(ctx, tr.ID)
	if *got.FileSize != 10 {
		t.Errorf("stored record was mutated through a returned copy: %d", *got.FileSize)
	}
}

func TestMemoryStore_PublishesEvents(t *testing.T) {
	bus := EventBus.New()
	s := setupTestStore(t, store.WithBus(bus))
	ctx := context.Background()

	var mu sync.Mutex
	var devices []store.Device
	var deleted []string
	if err := bus.Subscribe(store.TopicDeviceChanged, func(d store.Device) {
		mu.Lock()
		devices = append(devices, d)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Subscribe(store.TopicDeviceDeleted, func(id string) {
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_, _ = s.CreateDevice(ctx, store.Device{ID: "d1"})
	_, _ = s.UpdateDevice(ctx, "d1", store.DevicePatch{Name: strPtr("renamed")})
	_ = s.DeleteDevice(ctx, "d1")

	mu.Lock()
	defer mu.Unlock()
	if len(devices) != 2 || devices[1].Name != "renamed" {
		t.Errorf("unexpected device events %+v", devices)
	}
	if len(deleted) != 1 || deleted[0] != "d1" {
		t.Errorf("unexpected delete events %+v", deleted)
	}
}
