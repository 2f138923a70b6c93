package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type roomPayload struct {
	ID       string `json:"id" validate:"omitempty,max=128"`
	Name     string `json:"name" validate:"omitempty,max=100"`
	Password string `json:"password" validate:"omitempty,max=72"`
}

func (s *Server) createRoom(c echo.Context) error {
	var payload roomPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse room parameters", nil)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.Name = strings.TrimSpace(payload.Name)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	room, err := s.store.CreateRoom(c.Request().Context(), payload.ID, payload.Name, payload.Password)
	if err != nil {
		return storeError(c, "ROOM", "Room", err)
	}
	return created(c, room)
}

func (s *Server) getRoom(c echo.Context) error {
	room, err := s.store.GetRoom(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, "ROOM", "Room", err)
	}
	return ok(c, room)
}

func (s *Server) findRoom(c echo.Context) error {
	name := strings.TrimSpace(c.QueryParam("name"))
	if name == "" {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Query parameter name is required", nil)
	}

	room, err := s.store.GetRoomByName(c.Request().Context(), name)
	if err != nil {
		return storeError(c, "ROOM", "Room", err)
	}
	return ok(c, room)
}
