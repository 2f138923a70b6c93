// Package relay routes signaling frames between connected devices and keeps
// the device registry in step with live connections.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/sirupsen/logrus"
)

// Store is the part of the record store the relay writes to.
type Store interface {
	store.DeviceRepository
	store.RoomRepository
}

// Relay handles one frame or close event at a time. Callers must not invoke
// it concurrently; Server runs it on a single loop goroutine.
type Relay struct {
	registry *Registry
	store    Store
	codec    *protocol.Codec
	log      *logrus.Entry
	now      func() time.Time
}

func NewRelay(registry *Registry, st Store, log *logrus.Entry) *Relay {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Relay{
		registry: registry,
		store:    st,
		codec:    protocol.NewCodec(),
		log:      log,
		now:      time.Now,
	}
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

func (r *Relay) HandleFrame(ctx context.Context, c *Client, data []byte) {
	header, err := r.codec.DecodeHeader(data)
	if err != nil {
		r.log.WithError(err).WithField("peer", c.remote).Warn("Dropping malformed frame")
		return
	}

	if header.Type.Forwarded() {
		r.forward(c, header, data)
		return
	}

	msg, err := r.codec.Decode(data)
	if err != nil {
		r.log.WithError(err).WithField("peer", c.remote).Warn("Dropping frame")
		return
	}

	switch m := msg.(type) {
	case protocol.DeviceUpdate:
		r.handleDeviceUpdate(ctx, c, m)
	case protocol.JoinRoom:
		r.handleJoinRoom(ctx, c, m)
	case protocol.LeaveRoom:
		r.handleLeaveRoom(ctx, c, m)
	case protocol.RoomDevices:
		r.handleRoomDevices(ctx, c, m)
	case protocol.Ping:
		r.handlePing(ctx, c)
	default:
		r.log.WithField("type", header.Type.String()).Warn("Unhandled message type")
	}
}

// HandleClose marks the device behind c offline and tells its room.
func (r *Relay) HandleClose(ctx context.Context, c *Client) {
	defer c.close()

	if c.DeviceID == "" {
		return
	}
	r.detach(ctx, c, c.DeviceID)
}

func (r *Relay) detach(ctx context.Context, c *Client, deviceID string) {
	room := r.registry.Room(deviceID)
	if !r.registry.Unbind(deviceID, c) {
		return
	}

	if err := r.store.MarkOffline(ctx, deviceID, r.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.WithError(err).WithField("device", deviceID).Error("Failed to mark device offline")
	}
	r.log.WithField("device", deviceID).Info("Device disconnected")
	r.broadcast(room, deviceID)
}

func (r *Relay) forward(c *Client, header protocol.Header, data []byte) {
	if header.To == "" {
		r.log.WithField("type", header.Type.String()).Warn("Dropping frame without target")
		return
	}

	target, ok := r.registry.Conn(header.To)
	if !ok {
		r.log.WithField("to", header.To).WithField("type", header.Type.String()).Debug("Target not connected, dropping")
		return
	}
	if !target.Send(data) {
		r.log.WithField("to", header.To).Warn("Outbox full, dropping frame")
	}
}

// bind ties c to deviceID, detaching whatever device c announced before.
func (r *Relay) bind(ctx context.Context, c *Client, deviceID string) {
	if c.DeviceID != "" && c.DeviceID != deviceID {
		r.detach(ctx, c, c.DeviceID)
	}
	if prev := r.registry.Bind(deviceID, c); prev != nil {
		r.log.WithField("device", deviceID).Info("Replacing stale connection")
	}
	c.DeviceID = deviceID
}

func (r *Relay) handleDeviceUpdate(ctx context.Context, c *Client, m protocol.DeviceUpdate) {
	id := strings.TrimSpace(m.DeviceID)
	if id == "" {
		r.log.WithField("peer", c.remote).Warn("device-update without deviceId")
		return
	}
	r.bind(ctx, c, id)

	online := true
	now := r.now()
	patch := store.DevicePatch{Name: m.Name, IsOnline: &online, LastSeen: &now, Network: m.Network}
	if m.DeviceType != nil {
		t := store.DeviceType(*m.DeviceType)
		if !t.Valid() {
			r.log.WithField("type", *m.DeviceType).Warn("Ignoring unknown device type")
		} else {
			patch.Type = &t
		}
	}
	if patch.Network == nil && c.Network != "" {
		network := c.Network
		patch.Network = &network
	}

	device, created, err := r.store.UpsertDevice(ctx, id, patch)
	if err != nil {
		r.log.WithError(err).WithField("device", id).Error("Failed to update device")
		return
	}

	// A reconnecting device gets its recorded room back.
	if r.registry.Room(id) == "" && device.RoomID != "" {
		r.registry.SetRoom(id, device.RoomID)
	}

	r.log.WithField("device", id).WithField("created", created).Debug("Device updated")
	r.broadcast(r.registry.Room(id), id)
}

func (r *Relay) handleJoinRoom(ctx context.Context, c *Client, m protocol.JoinRoom) {
	id := strings.TrimSpace(m.DeviceID)
	if id == "" {
		id = c.DeviceID
	}
	roomID := strings.TrimSpace(m.RoomID)
	if id == "" || roomID == "" {
		r.log.WithField("peer", c.remote).Warn("join-room without deviceId or roomId")
		return
	}
	if c.DeviceID != id {
		r.bind(ctx, c, id)
	}

	room, created, err := r.store.EnsureRoom(ctx, roomID, m.RoomName, m.Password)
	if err != nil {
		r.log.WithError(err).WithField("room", roomID).Error("Failed to resolve room")
		r.reply(c, protocol.RoomJoined{RoomID: roomID, OK: false, Error: "room unavailable"})
		return
	}
	if !created && !room.CheckPassword(m.Password) {
		r.log.WithField("device", id).WithField("room", roomID).Warn("Rejected join with wrong password")
		r.reply(c, protocol.RoomJoined{RoomID: roomID, OK: false, Error: "invalid room password"})
		return
	}

	prev := r.registry.SetRoom(id, roomID)

	online := true
	now := r.now()
	patch := store.DevicePatch{RoomID: &roomID, IsOnline: &online, LastSeen: &now}
	if c.Network != "" {
		network := c.Network
		if d, err := r.store.GetDevice(ctx, id); err != nil || d.Network == "" {
			patch.Network = &network
		}
	}
	if _, _, err := r.store.UpsertDevice(ctx, id, patch); err != nil {
		r.log.WithError(err).WithField("device", id).Error("Failed to record room")
	}

	r.log.WithField("device", id).WithField("room", roomID).Info("Device joined room")
	r.reply(c, protocol.RoomJoined{RoomID: roomID, OK: true})

	r.broadcast(roomID, id)
	if prev != roomID {
		r.broadcast(prev, id)
	}
}

func (r *Relay) handleLeaveRoom(ctx context.Context, c *Client, m protocol.LeaveRoom) {
	id := strings.TrimSpace(m.DeviceID)
	if id == "" {
		id = c.DeviceID
	}
	if id == "" || id != c.DeviceID {
		r.log.WithField("peer", c.remote).Warn("leave-room for a device not bound to this connection")
		return
	}

	prev := r.registry.ClearRoom(id)

	empty := ""
	if _, err := r.store.UpdateDevice(ctx, id, store.DevicePatch{RoomID: &empty}); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.WithError(err).WithField("device", id).Error("Failed to clear room")
	}

	r.log.WithField("device", id).WithField("room", prev).Info("Device left room")
	r.reply(c, protocol.RoomLeft{RoomID: prev})

	if prev != "" {
		r.broadcast(prev, id)
	}
	r.broadcast("", id)
}

func (r *Relay) handleRoomDevices(ctx context.Context, c *Client, m protocol.RoomDevices) {
	roomID := m.RoomID
	if roomID == "" && c.DeviceID != "" {
		roomID = r.registry.Room(c.DeviceID)
	}

	devices, err := r.store.ListDevicesByRoom(ctx, roomID)
	if err != nil {
		r.log.WithError(err).Error("Failed to list room devices")
		return
	}

	online := make([]store.Device, 0, len(devices))
	for _, d := range devices {
		if d.IsOnline {
			online = append(online, d)
		}
	}
	r.reply(c, protocol.RoomDevices{RoomID: roomID, Devices: online})
}

func (r *Relay) handlePing(ctx context.Context, c *Client) {
	now := r.now()
	if c.DeviceID != "" {
		if _, err := r.store.UpdateDevice(ctx, c.DeviceID, store.DevicePatch{LastSeen: &now}); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.WithError(err).Debug("Failed to refresh lastSeen")
		}
	}
	r.reply(c, protocol.Ping{Timestamp: now.UnixMilli()})
}

// broadcast sends device-list-update to every connection bound to roomID,
// or to the roomless set when roomID is empty.
func (r *Relay) broadcast(roomID, deviceID string) {
	frame, err := r.codec.Encode(protocol.DeviceListUpdate{DeviceID: deviceID, RoomID: roomID})
	if err != nil {
		r.log.WithError(err).Error("Failed to encode device-list-update")
		return
	}

	for _, member := range r.registry.Members(roomID) {
		conn, ok := r.registry.Conn(member)
		if !ok {
			continue
		}
		if !conn.Send(frame) {
			r.log.WithField("device", member).Warn("Outbox full, dropping device-list-update")
		}
	}
}

func (r *Relay) reply(c *Client, msg protocol.Message) {
	frame, err := r.codec.Encode(msg)
	if err != nil {
		r.log.WithError(err).Error("Failed to encode reply")
		return
	}
	if !c.Send(frame) {
		r.log.WithField("peer", c.remote).Warn("Outbox full, dropping reply")
	}
}
