package store

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return true
	}
	return false
}

type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	RoomID   string     `json:"roomId,omitempty"`
	IsOnline bool       `json:"isOnline"`
	LastSeen time.Time  `json:"lastSeen"`
	Network  string     `json:"network,omitempty"`
}

// DevicePatch is a shallow merge: nil fields are left untouched.
type DevicePatch struct {
	Name     *string
	Type     *DeviceType
	RoomID   *string
	IsOnline *bool
	LastSeen *time.Time
	Network  *string
}

func (p DevicePatch) apply(d *Device) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Type != nil {
		d.Type = *p.Type
	}
	if p.RoomID != nil {
		d.RoomID = *p.RoomID
	}
	if p.IsOnline != nil {
		d.IsOnline = *p.IsOnline
	}
	if p.LastSeen != nil {
		d.LastSeen = *p.LastSeen
	}
	if p.Network != nil {
		d.Network = *p.Network
	}
}

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CheckPassword reports whether password opens the room. Unprotected rooms
// accept anything.
func (r *Room) CheckPassword(password string) bool {
	if !r.Protected {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) == nil
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferDeclined  TransferStatus = "declined"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferAccepted, TransferDeclined, TransferCompleted, TransferFailed:
		return true
	}
	return false
}

type Transfer struct {
	ID                int64          `json:"id,string"`
	FromDeviceID      string         `json:"fromDeviceId"`
	ToDeviceID        string         `json:"toDeviceId"`
	FileName          string         `json:"fileName,omitempty"`
	FileSize          *int64         `json:"fileSize,omitempty"`
	MessageText       string         `json:"messageText,omitempty"`
	Status            TransferStatus `json:"status"`
	Progress          float64        `json:"progress"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
	IsExpired         bool           `json:"isExpired"`
	SelfDestructTimer *int           `json:"selfDestructTimer,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

type TransferPatch struct {
	Status    *TransferStatus
	Progress  *float64
	ExpiresAt *time.Time
	IsExpired *bool
}

// Snapshot is a point-in-time copy of every record.
type Snapshot struct {
	Devices   []Device
	Rooms     []Room
	Transfers []Transfer
}
