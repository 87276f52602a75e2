// Package statusapi exposes a small diagnostics endpoint per service:
// liveness, the currently registered workers and a snapshot of the
// service's state counters.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

const shutdownTimeout = 5 * time.Second

// Workers lists the named workers currently running.
type Workers interface {
	Running() []string
}

// StateSnapshot is the read side of the service's state store.
type StateSnapshot interface {
	Snapshot() kafka.State
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Workers int    `json:"workers"`
}

// WorkersResponse is the /workers payload.
type WorkersResponse struct {
	Workers []string `json:"workers"`
}

// Server serves the diagnostics API for one service. State may be nil for
// services that keep no state store.
type Server struct {
	service string
	workers Workers
	state   StateSnapshot
	echo    *echo.Echo
}

// New assembles the server and its routes.
func New(service string, workers Workers, state StateSnapshot) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		service: service,
		workers: workers,
		state:   state,
		echo:    e,
	}

	e.GET("/healthz", s.healthz)
	e.GET("/workers", s.listWorkers)
	e.GET("/state", s.stateSnapshot)

	return s
}

// Handler exposes the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves the API in the background until shutdown is requested. A
// disabled config is a no-op.
func (s *Server) Start(cfg config.StatusConfig, sd *shutdown.Handle) {
	if !cfg.Enabled {
		return
	}

	go func() {
		if err := s.echo.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			eve.Logger.WithError(err).Error("status api failed")
		}
	}()

	lock := sd.Started("status api " + cfg.Addr)
	go func() {
		defer lock.Release()
		for !sd.ShouldShutdown() {
			time.Sleep(200 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(ctx); err != nil {
			eve.Logger.WithError(err).Error("failed to stop status api")
		}
	}()

	eve.Logger.WithField("addr", cfg.Addr).Info("status api listening")
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: s.service,
		Workers: len(s.workers.Running()),
	})
}

func (s *Server) listWorkers(c echo.Context) error {
	workers := s.workers.Running()
	sort.Strings(workers)
	if workers == nil {
		workers = []string{}
	}
	return c.JSON(http.StatusOK, WorkersResponse{Workers: workers})
}

func (s *Server) stateSnapshot(c echo.Context) error {
	if s.state == nil {
		return c.JSON(http.StatusOK, kafka.State{})
	}
	return c.JSON(http.StatusOK, s.state.Snapshot())
}
