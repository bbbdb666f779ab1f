package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/engine"
	"github.com/shadowkit/shadow-agent/internal/export"
)

const defaultHeartbeat = 15 * time.Second

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, catalog.ConfigKeyAPIToken, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/results/latest", latestResultHandler(cfg))
		r.Get("/events", eventsHandler(cfg))
		r.Post("/trigger", triggerHandler(cfg))
		r.Post("/pause", pauseHandler(cfg, true))
		r.Post("/resume", pauseHandler(cfg, false))
		r.Get("/cycles", listCyclesHandler(cfg))
		r.Get("/cycles/export.edl", exportEDLHandler(cfg))
		r.Get("/cycles/{id}", getCycleHandler(cfg))
		r.Post("/cycles/{id}/mic", micHandler(cfg))
		r.Get("/artifacts", listArtifactsHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/artifacts/{seq}/audio", artifactAudioHandler(cfg))
			r.Head("/artifacts/{seq}/audio", artifactAudioHandler(cfg))
			r.Get("/artifacts/latest/{category}", latestAudioHandler(cfg))
			r.Head("/artifacts/latest/{category}", latestAudioHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusToResponse(cfg.Engine.Status())
		resp.OutputDir = cfg.OutputDir
		resp.RetentionCap = cfg.RetentionCap
		if cfg.Connected != nil {
			resp.Connected = cfg.Connected()
		}

		// Only a cached probe is reported; status never waits on ffmpeg.
		if cfg.Probe != nil {
			if caps := cfg.Probe.Peek(); caps != nil {
				resp.FFmpeg = &FFmpegResponse{
					Available: caps.Available,
					Version:   caps.Version,
					Error:     caps.Error,
				}
				if !caps.ProbedAt.IsZero() {
					resp.FFmpeg.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func latestResultHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, ok := cfg.Display.Latest()
		if !ok {
			WriteError(w, http.StatusNotFound, "no result yet", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ev)
	}
}

const eventsWriteWait = 5 * time.Second

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// eventsHandler streams display events as JSON websocket messages. The
// newest result is sent first so a fresh client does not start blank.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	pongWait := 3 * heartbeat

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := eventsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			cfg.Logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events, cancel := cfg.Display.Subscribe(0)
		defer cancel()

		// Client messages are ignored; the read loop only notices a close
		// and keeps pongs flowing.
		closed := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(ev display.Event) error {
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			return conn.WriteJSON(ev)
		}

		if ev, ok := cfg.Display.Latest(); ok {
			if err := send(ev); err != nil {
				return
			}
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case ev, ok := <-events:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(eventsWriteWait))
					return
				}
				if err := send(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func triggerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The cycle outlives the request.
		c := cfg.Engine.Trigger(context.WithoutCancel(r.Context()), "http")
		if c == nil {
			WriteError(w, http.StatusConflict, "trigger handling is paused", "PAUSED")
			return
		}
		WriteJSON(w, http.StatusAccepted, TriggerResponse{CycleID: c.ID()})
	}
}

func pauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pause {
			cfg.Engine.Pause()
		} else {
			cfg.Engine.Resume()
		}
		WriteJSON(w, http.StatusOK, StatusToResponse(cfg.Engine.Status()))
	}
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 500 {
		return 0, false
	}
	return n, true
}

func listCyclesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
			return
		}

		cycles, err := cfg.Repository.ListCycles(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list cycles", "INTERNAL_ERROR")
			return
		}

		resp := CyclesResponse{Cycles: make([]CycleResponse, len(cycles))}
		for i, c := range cycles {
			resp.Cycles[i] = CycleToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// exportEDLHandler lists recent cut windows as an edit decision list,
// oldest first.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
			return
		}
		fps := export.DefaultFrameRate
		if v := r.URL.Query().Get("fps"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 || f > 120 {
				WriteError(w, http.StatusBadRequest, "fps must be between 0 and 120", "BAD_REQUEST")
				return
			}
			fps = f
		}
		title := r.URL.Query().Get("title")
		if title == "" {
			title = "shadow session"
		}

		cycles, err := cfg.Repository.ListCycles(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list cycles", "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="shadow.edl"`)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, export.GenerateEDL(export.ClipsFromCycles(cycles), title, fps))
	}
}

func getCycleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "cycle id required", "BAD_REQUEST")
			return
		}

		c, err := cfg.Repository.GetCycle(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if c == nil {
			WriteError(w, http.StatusNotFound, "cycle not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, CycleToResponse(c))
	}
}

func micHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		res, err := cfg.Engine.SubmitMic(r.Context(), id, r.Body)
		switch {
		case errors.Is(err, engine.ErrCycleNotFound):
			WriteError(w, http.StatusNotFound, "cycle not found", "NOT_FOUND")
			return
		case errors.Is(err, engine.ErrInvalidRecording):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case errors.Is(err, engine.ErrNoCycleStore):
			WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
			return
		case err != nil:
			cfg.Logger.Error("mic upload failed", "cycle_id", id, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store recording", "INTERNAL_ERROR")
			return
		}

		resp := MicResponse{
			CycleID:    res.CycleID,
			Path:       res.Path,
			LatestPath: res.LatestPath,
			Mic: MetricsBlock{
				RMS:        res.Analysis.RMS,
				Peak:       res.Analysis.Peak,
				F0MedianHz: res.Analysis.F0MedianHz,
				VoicedPct:  res.Analysis.VoicedPct,
			},
		}
		if c, err := cfg.Repository.GetCycle(r.Context(), id); err == nil && c != nil {
			resp.Source = &MetricsBlock{
				RMS:        c.RMS,
				Peak:       c.Peak,
				F0MedianHz: c.F0MedianHz,
				VoicedPct:  c.VoicedPct,
			}
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func listArtifactsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := catalog.CategorySource
		if v := r.URL.Query().Get("category"); v != "" {
			category = catalog.Category(v)
		}
		if !category.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown category", "BAD_REQUEST")
			return
		}

		arts, err := cfg.Repository.ListArtifacts(r.Context(), category)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list artifacts", "INTERNAL_ERROR")
			return
		}

		resp := ArtifactsResponse{Artifacts: make([]ArtifactResponse, len(arts))}
		for i, a := range arts {
			resp.Artifacts[i] = ArtifactToResponse(a)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func artifactAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := strconv.ParseInt(chi.URLParam(r, "seq"), 10, 64)
		if err != nil || seq <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid artifact sequence", "BAD_REQUEST")
			return
		}

		a, err := cfg.Repository.GetArtifact(r.Context(), seq)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if a == nil {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		if err := cfg.PlaybackServer.ServeFile(w, r, a.Path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "seq", seq)
		}
	}
}

func latestAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := catalog.Category(chi.URLParam(r, "category"))
		if !category.Valid() || cfg.OutputDir == "" {
			WriteError(w, http.StatusNotFound, "unknown category", "NOT_FOUND")
			return
		}

		path := filepath.Join(cfg.OutputDir, catalog.LatestName(category))
		if err := cfg.PlaybackServer.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "category", category)
		}
	}
}
