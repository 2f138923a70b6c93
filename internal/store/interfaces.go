package store

import (
	"context"
	"time"
)

// DeviceRepository defines device storage operations.
type DeviceRepository interface {
	CreateDevice(ctx context.Context, d Device) (Device, error)
	GetDevice(ctx context.Context, id string) (Device, error)
	UpdateDevice(ctx context.Context, id string, patch DevicePatch) (Device, error)
	UpsertDevice(ctx context.Context, id string, patch DevicePatch) (Device, bool, error)
	DeleteDevice(ctx context.Context, id string) error
	MarkOffline(ctx context.Context, id string, at time.Time) error
	ListDevicesByRoom(ctx context.Context, roomID string) ([]Device, error)
	ListDevicesByNetwork(ctx context.Context, network string) ([]Device, error)
	ListOnlineDevices(ctx context.Context) ([]Device, error)
}

// RoomRepository defines room storage operations.
type RoomRepository interface {
	CreateRoom(ctx context.Context, id, name, password string) (Room, error)
	EnsureRoom(ctx context.Context, id, name, password string) (Room, bool, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
}

// TransferRepository defines transfer record operations.
type TransferRepository interface {
	CreateTransfer(ctx context.Context, t Transfer) (Transfer, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	UpdateTransfer(ctx context.Context, id int64, patch TransferPatch) (Transfer, error)
	ListTransfersByDevice(ctx context.Context, deviceID string) ([]Transfer, error)
}

// Store is everything the relay and the REST surface need.
type Store interface {
	DeviceRepository
	RoomRepository
	TransferRepository
	Snapshot() Snapshot
}

var (
	_ DeviceRepository   = (*MemoryStore)(nil)
	_ RoomRepository     = (*MemoryStore)(nil)
	_ TransferRepository = (*MemoryStore)(nil)
	_ Store              = (*MemoryStore)(nil)
)
