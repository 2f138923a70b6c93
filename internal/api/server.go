// Package api serves the REST surface over the device, room and transfer
// store.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	echo  *echo.Echo
	store store.Store
	log   *logrus.Entry
	now   func() time.Time
}

func NewServer(st store.Store, log *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.JSONSerializer = jsonSerializer{}

	s := &Server{echo: e, store: st, log: log, now: time.Now}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request")
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	api := s.echo.Group("/api")
	api.POST("/devices", s.createDevice)
	api.GET("/devices", s.listDevices)
	api.GET("/devices/:id", s.getDevice)
	api.PATCH("/devices/:id", s.updateDevice)
	api.DELETE("/devices/:id", s.deleteDevice)
	api.GET("/devices/:id/transfers", s.listDeviceTransfers)

	api.POST("/rooms", s.createRoom)
	api.GET("/rooms", s.findRoom)
	api.GET("/rooms/:id", s.getRoom)

	api.POST("/transfers", s.createTransfer)
	api.GET("/transfers/:id", s.getTransfer)
	api.PATCH("/transfers/:id", s.updateTransfer)
}

// Mount serves h on GET path, used for the relay's WebSocket endpoint.
func (s *Server) Mount(path string, h http.Handler) {
	s.echo.GET(path, echo.WrapHandler(h))
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return ok(c, map[string]string{"status": "ok"})
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
