package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

type response struct {
	Data interface{} `json:"data"`
}

type errorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, response{Data: data})
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, response{Data: data})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, errorResponse{Error: code, Message: message, Detail: detail})
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request parameters", err.Error())
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", strings.Join(fields, "; "))
}

// storeError maps store sentinels onto HTTP errors. code prefixes the error
// code and label starts the message.
func storeError(c echo.Context, code, label string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail(c, http.StatusNotFound, code+"_NOT_FOUND", label+" not found", nil)
	case errors.Is(err, store.ErrConflict):
		return fail(c, http.StatusConflict, code+"_EXISTS", label+" already exists", nil)
	case errors.Is(err, store.ErrProgressRegression):
		return fail(c, http.StatusConflict, "PROGRESS_REGRESSION", "Progress cannot decrease", nil)
	case errors.Is(err, store.ErrInvalidDevice), errors.Is(err, store.ErrInvalidTransfer), errors.Is(err, store.ErrInvalidExpiry):
		return fail(c, http.StatusUnprocessableEntity, "INVALID_"+code, err.Error(), nil)
	}
	return fail(c, http.StatusInternalServerError, "STORE_ERROR", "Store operation failed", err.Error())
}
