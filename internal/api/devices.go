package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

type devicePayload struct {
	ID      string `json:"id" validate:"required,max=128"`
	Name    string `json:"name" validate:"required,min=1,max=100"`
	Type    string `json:"type" validate:"omitempty,oneof=desktop mobile tablet"`
	Network string `json:"network" validate:"omitempty,max=64"`
}

// Room membership is owned by the relay and cannot be patched here.
type deviceUpdatePayload struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=100"`
	Type    *string `json:"type" validate:"omitempty,oneof=desktop mobile tablet"`
	Network *string `json:"network" validate:"omitempty,max=64"`
}

func (s *Server) createDevice(c echo.Context) error {
	var payload devicePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse device parameters", nil)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.Name = strings.TrimSpace(payload.Name)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	device, err := s.store.CreateDevice(c.Request().Context(), store.Device{
		ID:       payload.ID,
		Name:     payload.Name,
		Type:     store.DeviceType(payload.Type),
		Network:  payload.Network,
		LastSeen: s.now(),
	})
	if err != nil {
		return storeError(c, "DEVICE", "Device", err)
	}
	return created(c, device)
}

func (s *Server) getDevice(c echo.Context) error {
	device, err := s.store.GetDevice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, "DEVICE", "Device", err)
	}
	return ok(c, device)
}

func (s *Server) updateDevice(c echo.Context) error {
	var payload deviceUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse device parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	patch := store.DevicePatch{Name: payload.Name, Network: payload.Network}
	if payload.Type != nil {
		dt := store.DeviceType(*payload.Type)
		patch.Type = &dt
	}

	device, err := s.store.UpdateDevice(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return storeError(c, "DEVICE", "Device", err)
	}
	return ok(c, device)
}

func (s *Server) deleteDevice(c echo.Context) error {
	if err := s.store.DeleteDevice(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(c, "DEVICE", "Device", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listDevices filters by roomId (empty means devices in no room), then by
// network, and otherwise lists online devices.
func (s *Server) listDevices(c echo.Context) error {
	ctx := c.Request().Context()
	query := c.QueryParams()

	var (
		devices []store.Device
		err     error
	)
	switch {
	case query.Has("roomId"):
		devices, err = s.store.ListDevicesByRoom(ctx, query.Get("roomId"))
	case query.Get("network") != "":
		devices, err = s.store.ListDevicesByNetwork(ctx, query.Get("network"))
	default:
		devices, err = s.store.ListOnlineDevices(ctx)
	}
	if err != nil {
		return storeError(c, "DEVICE", "Device", err)
	}
	return ok(c, devices)
}
