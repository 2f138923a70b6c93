// Package store holds the device, room and transfer records in memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TopicDeviceChanged   = "device:changed"
	TopicDeviceDeleted   = "device:deleted"
	TopicRoomChanged     = "room:changed"
	TopicTransferChanged = "transfer:changed"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrConflict           = errors.New("store: already exists")
	ErrInvalidDevice      = errors.New("store: invalid device")
	ErrInvalidTransfer    = errors.New("store: invalid transfer")
	ErrInvalidExpiry      = errors.New("store: expiresAt must be after createdAt")
	ErrProgressRegression = errors.New("store: progress cannot decrease")
)

type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	rooms     map[string]*Room
	roomNames map[string]string
	transfers map[int64]*Transfer

	ids *snowflake.Node
	bus EventBus.Bus
	now func() time.Time
}

type Option func(*MemoryStore)

// WithBus publishes every mutation on bus.
func WithBus(bus EventBus.Bus) Option {
	return func(s *MemoryStore) { s.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...Option) (*MemoryStore, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	s := &MemoryStore{
		devices:   make(map[string]*Device),
		rooms:     make(map[string]*Room),
		roomNames: make(map[string]string),
		transfers: make(map[int64]*Transfer),
		ids:       node,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MemoryStore) publish(topic string, arg interface{}) {
	if s.bus != nil {
		s.bus.Publish(topic, arg)
	}
}

func (s *MemoryStore) CreateDevice(_ context.Context, d Device) (Device, error) {
	if strings.TrimSpace(d.ID) == "" {
		return Device{}, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if d.Type == "" {
		d.Type = DeviceDesktop
	}
	if !d.Type.Valid() {
		return Device{}, fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, d.Type)
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = s.now()
	}

	s.mu.Lock()
	if _, exists := s.devices[d.ID]; exists {
		s.mu.Unlock()
		return Device{}, ErrConflict
	}
	stored := d
	s.devices[d.ID] = &stored
	s.mu.Unlock()

	s.publish(TopicDeviceChanged, d)
	return d, nil
}

func (s *MemoryStore) GetDevice(_ context.Context, id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return *d, nil
}

func (s *MemoryStore) UpdateDevice(_ context.Context, id string, patch DevicePatch) (Device, error) {
	if patch.Type != nil && !patch.Type.Valid() {
		return Device{}, fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, *patch.Type)
	}

	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return Device{}, ErrNotFound
	}
	patch.apply(d)
	out := *d
	s.mu.Unlock()

	s.publish(TopicDeviceChanged, out)
	return out, nil
}

// UpsertDevice applies patch to id, creating the device first when it is
// unknown. The bool reports creation.
func (s *MemoryStore) UpsertDevice(_ context.Context, id string, patch DevicePatch) (Device, bool, error) {
	if strings.TrimSpace(id) == "" {
		return Device{}, false, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return Device{}, false, fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, *patch.Type)
	}

	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok {
		d = &Device{ID: id, Name: id, Type: DeviceDesktop, LastSeen: s.now()}
		s.devices[id] = d
	}
	patch.apply(d)
	out := *d
	s.mu.Unlock()

	s.publish(TopicDeviceChanged, out)
	return out, !ok, nil
}

func (s *MemoryStore) DeleteDevice(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.devices[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.devices, id)
	s.mu.Unlock()

	s.publish(TopicDeviceDeleted, id)
	return nil
}

func (s *MemoryStore) MarkOffline(ctx context.Context, id string, at time.Time) error {
	offline := false
	_, err := s.UpdateDevice(ctx, id, DevicePatch{IsOnline: &offline, LastSeen: &at})
	return err
}

// ListDevicesByRoom returns the devices recorded in roomID. An empty roomID
// selects devices that are in no room.
func (s *MemoryStore) ListDevicesByRoom(_ context.Context, roomID string) ([]Device, error) {
	return s.filterDevices(func(d *Device) bool { return d.RoomID == roomID }), nil
}

func (s *MemoryStore) ListDevicesByNetwork(_ context.Context, network string) ([]Device, error) {
	return s.filterDevices(func(d *Device) bool { return d.Network == network }), nil
}

func (s *MemoryStore) ListOnlineDevices(_ context.Context) ([]Device, error) {
	return s.filterDevices(func(d *Device) bool { return d.IsOnline }), nil
}

func (s *MemoryStore) filterDevices(keep func(*Device) bool) []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Device, 0)
	for _, d := range s.devices {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) CreateRoom(_ context.Context, id, name, password string) (Room, error) {
	room, err := s.newRoom(id, name, password)
	if err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	if _, exists := s.rooms[room.ID]; exists {
		s.mu.Unlock()
		return Room{}, ErrConflict
	}
	if _, taken := s.roomNames[room.Name]; taken {
		s.mu.Unlock()
		return Room{}, ErrConflict
	}
	s.insertRoom(room)
	s.mu.Unlock()

	s.publish(TopicRoomChanged, *room)
	return *room, nil
}

// EnsureRoom returns the room with id, creating it on first reference.
// The bool reports creation.
func (s *MemoryStore) EnsureRoom(_ context.Context, id, name, password string) (Room, bool, error) {
	s.mu.RLock()
	existing, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return *existing, false, nil
	}

	room, err := s.newRoom(id, name, password)
	if err != nil {
		return Room{}, false, err
	}

	s.mu.Lock()
	if existing, ok := s.rooms[room.ID]; ok {
		s.mu.Unlock()
		return *existing, false, nil
	}
	if _, taken := s.roomNames[room.Name]; taken {
		room.Name = room.ID
	}
	s.insertRoom(room)
	s.mu.Unlock()

	s.publish(TopicRoomChanged, *room)
	return *room, true, nil
}

func (s *MemoryStore) newRoom(id, name, password string) (*Room, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}

	room := &Room{ID: id, Name: name, CreatedAt: s.now()}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash room password: %w", err)
		}
		room.PasswordHash = string(hash)
		room.Protected = true
	}
	return room, nil
}

func (s *MemoryStore) insertRoom(room *Room) {
	s.rooms[room.ID] = room
	s.roomNames[room.Name] = room.ID
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemoryStore) GetRoomByName(_ context.Context, name string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roomNames[strings.TrimSpace(name)]
	if !ok {
		return Room{}, ErrNotFound
	}
	return *s.rooms[id], nil
}

func (s *MemoryStore) CreateTransfer(_ context.Context, t Transfer) (Transfer, error) {
	if t.FromDeviceID == "" || t.ToDeviceID == "" {
		return Transfer{}, fmt.Errorf("%w: both endpoints are required", ErrInvalidTransfer)
	}
	if t.Status == "" {
		t.Status = TransferPending
	}
	if !t.Status.Valid() {
		return Transfer{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransfer, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return Transfer{}, fmt.Errorf("%w: progress out of range", ErrInvalidTransfer)
	}

	t.ID = s.ids.Generate().Int64()
	t.CreatedAt = s.now()
	if t.ExpiresAt == nil && t.SelfDestructTimer != nil && *t.SelfDestructTimer > 0 {
		expires := t.CreatedAt.Add(time.Duration(*t.SelfDestructTimer) * time.Second)
		t.ExpiresAt = &expires
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(t.CreatedAt) {
		return Transfer{}, ErrInvalidExpiry
	}

	stored := cloneTransfer(t)
	s.mu.Lock()
	s.transfers[t.ID] = &stored
	s.mu.Unlock()

	s.publish(TopicTransferChanged, cloneTransfer(t))
	return cloneTransfer(t), nil
}

func (s *MemoryStore) GetTransfer(_ context.Context, id int64) (Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return cloneTransfer(*t), nil
}

func (s *MemoryStore) UpdateTransfer(_ context.Context, id int64, patch TransferPatch) (Transfer, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return Transfer{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransfer, *patch.Status)
	}
	if patch.Progress != nil && (*patch.Progress < 0 || *patch.Progress > 100) {
		return Transfer{}, fmt.Errorf("%w: progress out of range", ErrInvalidTransfer)
	}

	s.mu.Lock()
	t, ok := s.transfers[id]
	if !ok {
		s.mu.Unlock()
		return Transfer{}, ErrNotFound
	}
	if patch.Progress != nil && *patch.Progress < t.Progress {
		s.mu.Unlock()
		return Transfer{}, ErrProgressRegression
	}

	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Progress != nil {
		t.Progress = *patch.Progress
	}
	if patch.ExpiresAt != nil {
		expires := *patch.ExpiresAt
		t.ExpiresAt = &expires
	}
	if patch.IsExpired != nil {
		t.IsExpired = *patch.IsExpired
	}
	out := cloneTransfer(*t)
	s.mu.Unlock()

	s.publish(TopicTransferChanged, cloneTransfer(out))
	return out, nil
}

// ListTransfersByDevice returns transfers where deviceID is either
// endpoint, newest first.
func (s *MemoryStore) ListTransfersByDevice(_ context.Context, deviceID string) ([]Transfer, error) {
	s.mu.RLock()
	out := make([]Transfer, 0)
	for _, t := range s.transfers {
		if t.FromDeviceID == deviceID || t.ToDeviceID == deviceID {
			out = append(out, cloneTransfer(*t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Devices:   make([]Device, 0, len(s.devices)),
		Rooms:     make([]Room, 0, len(s.rooms)),
		Transfers: make([]Transfer, 0, len(s.transfers)),
	}
	for _, d := range s.devices {
		snap.Devices = append(snap.Devices, *d)
	}
	for _, r := range s.rooms {
		snap.Rooms = append(snap.Rooms, *r)
	}
	for _, t := range s.transfers {
		snap.Transfers = append(snap.Transfers, cloneTransfer(*t))
	}
	return snap
}

func cloneTransfer(t Transfer) Transfer {
	out := t
	if t.FileSize != nil {
		size := *t.FileSize
		out.FileSize = &size
	}
	if t.ExpiresAt != nil {
		expires := *t.ExpiresAt
		out.ExpiresAt = &expires
	}
	if t.SelfDestructTimer != nil {
		timer := *t.SelfDestructTimer
		out.SelfDestructTimer = &timer
	}
	return out
}
