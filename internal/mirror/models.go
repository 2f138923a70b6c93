package mirror

import (
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

type Device struct {
	ID       string `gorm:"primaryKey;size:128"`
	Name     string `gorm:"size:100"`
	Type     string `gorm:"size:16"`
	RoomID   string `gorm:"size:128;index"`
	IsOnline bool   `gorm:"index"`
	LastSeen time.Time
	Network  string `gorm:"size:64;index"`
}

func (Device) TableName() string { return "devices" }

type Room struct {
	ID           string `gorm:"primaryKey;size:128"`
	Name         string `gorm:"size:100;uniqueIndex"`
	PasswordHash string
	Protected    bool
	CreatedAt    time.Time
}

func (Room) TableName() string { return "rooms" }

type Transfer struct {
	ID                int64  `gorm:"primaryKey;autoIncrement:false"`
	FromDeviceID      string `gorm:"size:128;index"`
	ToDeviceID        string `gorm:"size:128;index"`
	FileName          string
	FileSize          *int64
	MessageText       string
	Status            string `gorm:"size:16"`
	Progress          float64
	ExpiresAt         *time.Time
	IsExpired         bool
	SelfDestructTimer *int
	CreatedAt         time.Time
}

func (Transfer) TableName() string { return "transfers" }

func deviceRow(d store.Device) Device {
	return Device{
		ID:       d.ID,
		Name:     d.Name,
		Type:     string(d.Type),
		RoomID:   d.RoomID,
		IsOnline: d.IsOnline,
		LastSeen: d.LastSeen,
		Network:  d.Network,
	}
}

func roomRow(r store.Room) Room {
	return Room{
		ID:           r.ID,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		Protected:    r.Protected,
		CreatedAt:    r.CreatedAt,
	}
}

func transferRow(t store.Transfer) Transfer {
	return Transfer{
		ID:                t.ID,
		FromDeviceID:      t.FromDeviceID,
		ToDeviceID:        t.ToDeviceID,
		FileName:          t.FileName,
		FileSize:          t.FileSize,
		MessageText:       t.MessageText,
		Status:            string(t.Status),
		Progress:          t.Progress,
		ExpiresAt:         t.ExpiresAt,
		IsExpired:         t.IsExpired,
		SelfDestructTimer: t.SelfDestructTimer,
		CreatedAt:         t.CreatedAt,
	}
}
