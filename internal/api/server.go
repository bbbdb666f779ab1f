// Package api serves the local HTTP display boundary: status, results, the
// live event stream, cycle history, artifact playback and mic uploads.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/engine"
	"github.com/shadowkit/shadow-agent/internal/pipelines"
	"github.com/shadowkit/shadow-agent/internal/playback"
)

// EngineControl is the part of the engine the API drives. Implemented by
// *engine.Engine.
type EngineControl interface {
	Status() engine.Status
	Pause()
	Resume()
	Trigger(ctx context.Context, source string) *engine.Cycle
	SubmitMic(ctx context.Context, cycleID string, r io.Reader) (*engine.MicResult, error)
}

// DisplaySource exposes the newest result and the live event feed.
// Implemented by *display.Hub.
type DisplaySource interface {
	Latest() (display.Event, bool)
	Subscribe(buffer int) (<-chan display.Event, func())
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Engine         EngineControl
	Display        DisplaySource
	Repository     catalog.Repository
	PlaybackServer playback.PlaybackService
	Probe          *pipelines.CachedProbe
	Gatherer       prometheus.Gatherer
	Connected      func() bool // control channel state, optional
	OutputDir      string
	RetentionCap   int
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string

	// Heartbeat is the ping interval on the events websocket.
	Heartbeat time.Duration
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// The event stream and large uploads stay open; no write deadline.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
