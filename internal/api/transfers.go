package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rudransh-shrivastava/peerdrop/internal/expiry"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

type transferPayload struct {
	FromDeviceID      string     `json:"fromDeviceId" validate:"required"`
	ToDeviceID        string     `json:"toDeviceId" validate:"required"`
	FileName          string     `json:"fileName" validate:"required_without=MessageText,max=255"`
	FileSize          *int64     `json:"fileSize" validate:"omitempty,min=0"`
	MessageText       string     `json:"messageText" validate:"max=65536"`
	Status            string     `json:"status" validate:"omitempty,oneof=pending accepted declined completed failed"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	SelfDestructTimer *int       `json:"selfDestructTimer" validate:"omitempty,min=1"`
}

type transferUpdatePayload struct {
	Status    *string    `json:"status" validate:"omitempty,oneof=pending accepted declined completed failed"`
	Progress  *float64   `json:"progress" validate:"omitempty,min=0,max=100"`
	ExpiresAt *time.Time `json:"expiresAt"`
	IsExpired *bool      `json:"isExpired"`
}

func parseTransferID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) createTransfer(c echo.Context) error {
	var payload transferPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse transfer parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	transfer, err := s.store.CreateTransfer(c.Request().Context(), store.Transfer{
		FromDeviceID:      payload.FromDeviceID,
		ToDeviceID:        payload.ToDeviceID,
		FileName:          payload.FileName,
		FileSize:          payload.FileSize,
		MessageText:       payload.MessageText,
		Status:            store.TransferStatus(payload.Status),
		ExpiresAt:         payload.ExpiresAt,
		SelfDestructTimer: payload.SelfDestructTimer,
	})
	if err != nil {
		return storeError(c, "TRANSFER", "Transfer", err)
	}
	return created(c, transfer)
}

func (s *Server) getTransfer(c echo.Context) error {
	id, valid := parseTransferID(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid transfer ID", nil)
	}

	transfer, err := s.store.GetTransfer(c.Request().Context(), id)
	if err != nil {
		return storeError(c, "TRANSFER", "Transfer", err)
	}
	return ok(c, transfer)
}

func (s *Server) updateTransfer(c echo.Context) error {
	id, valid := parseTransferID(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid transfer ID", nil)
	}

	var payload transferUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse transfer parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	patch := store.TransferPatch{
		Progress:  payload.Progress,
		ExpiresAt: payload.ExpiresAt,
		IsExpired: payload.IsExpired,
	}
	if payload.Status != nil {
		status := store.TransferStatus(*payload.Status)
		patch.Status = &status
	}

	transfer, err := s.store.UpdateTransfer(c.Request().Context(), id, patch)
	if err != nil {
		return storeError(c, "TRANSFER", "Transfer", err)
	}
	return ok(c, transfer)
}

// listDeviceTransfers hides expired transfers unless includeExpired=true.
func (s *Server) listDeviceTransfers(c echo.Context) error {
	transfers, err := s.store.ListTransfersByDevice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, "TRANSFER", "Transfer", err)
	}

	if include, _ := strconv.ParseBool(c.QueryParam("includeExpired")); include {
		return ok(c, expiry.Mark(transfers, s.now()))
	}
	return ok(c, expiry.Active(transfers, s.now()))
}
