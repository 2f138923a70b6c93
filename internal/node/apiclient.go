package node

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const apiTimeout = 5 * time.Second

// APIError is a non-2xx REST reply.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// APIClient talks to the relay's REST surface.
type APIClient struct {
	base string
}

func NewAPIClient(base string) *APIClient {
	return &APIClient{base: strings.TrimRight(base, "/")}
}

// APIBaseFromRelay turns ws://host:port/ws into http://host:port.
func APIBaseFromRelay(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay URL has no host")
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

type envelope struct {
	Data jsoniter.RawMessage `json:"data"`
}

func decodeReply(code int, body []byte, out interface{}) error {
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: code}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode reply data: %w", err)
	}
	return nil
}

type NewTransfer struct {
	FromDeviceID      string `json:"fromDeviceId"`
	ToDeviceID        string `json:"toDeviceId"`
	FileName          string `json:"fileName,omitempty"`
	FileSize          *int64 `json:"fileSize,omitempty"`
	MessageText       string `json:"messageText,omitempty"`
	SelfDestructTimer *int   `json:"selfDestructTimer,omitempty"`
}

type TransferUpdate struct {
	Status   *store.TransferStatus `json:"status,omitempty"`
	Progress *float64              `json:"progress,omitempty"`
}

func (a *APIClient) CreateTransfer(ctx context.Context, t NewTransfer) (store.Transfer, error) {
	var (
		body []byte
		code int
		out  store.Transfer
	)
	err := gout.POST(a.base + "/api/transfers").
		WithContext(ctx).
		SetTimeout(apiTimeout).
		SetJSON(t).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return out, fmt.Errorf("failed to create transfer: %w", err)
	}
	return out, decodeReply(code, body, &out)
}

func (a *APIClient) UpdateTransfer(ctx context.Context, id int64, patch TransferUpdate) (store.Transfer, error) {
	var (
		body []byte
		code int
		out  store.Transfer
	)
	err := gout.PATCH(a.base + "/api/transfers/" + strconv.FormatInt(id, 10)).
		WithContext(ctx).
		SetTimeout(apiTimeout).
		SetJSON(patch).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return out, fmt.Errorf("failed to update transfer: %w", err)
	}
	return out, decodeReply(code, body, &out)
}

// DeviceQuery selects a device list. With neither field set the relay
// returns online devices.
type DeviceQuery struct {
	RoomID  *string
	Network string
}

func (a *APIClient) ListDevices(ctx context.Context, q DeviceQuery) ([]store.Device, error) {
	query := gout.H{}
	if q.RoomID != nil {
		query["roomId"] = *q.RoomID
	} else if q.Network != "" {
		query["network"] = q.Network
	}

	var (
		body []byte
		code int
		out  []store.Device
	)
	err := gout.GET(a.base + "/api/devices").
		WithContext(ctx).
		SetTimeout(apiTimeout).
		SetQuery(query).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return out, decodeReply(code, body, &out)
}

func (a *APIClient) ListTransfers(ctx context.Context, deviceID string, includeExpired bool) ([]store.Transfer, error) {
	var (
		body []byte
		code int
		out  []store.Transfer
	)
	err := gout.GET(a.base + "/api/devices/" + url.PathEscape(deviceID) + "/transfers").
		WithContext(ctx).
		SetTimeout(apiTimeout).
		SetQuery(gout.H{"includeExpired": includeExpired}).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return out, decodeReply(code, body, &out)
}
