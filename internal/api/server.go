// Package api exposes the HTTP interface for the snapshot service.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/hash/sha256"
	"github.com/JakeFAU/radar-snapshot/internal/metrics"
	"github.com/JakeFAU/radar-snapshot/internal/middleware"
	"github.com/JakeFAU/radar-snapshot/internal/policy/ratelimit"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// NotFoundBody is returned on the snapshot route before the first publish.
const NotFoundBody = "Image not found yet."

// Refresher dispatches an out-of-band run. Trigger reports false when a run
// is already executing.
type Refresher interface {
	Trigger() bool
}

// StatusSource reports the most recent run.
type StatusSource interface {
	LastRun() snapshot.RunStatus
}

// Config controls routes and limits.
type Config struct {
	SnapshotRoute string
	// RefreshInterval is the minimum spacing between accepted manual
	// refreshes. Zero disables the limit.
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
}

// Server wires HTTP handlers to the snapshot store and scheduler.
type Server struct {
	router    chi.Router
	store     snapshot.Store
	refresher Refresher
	status    StatusSource
	limiter   *ratelimit.Limiter
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store snapshot.Store,
	refresher Refresher,
	status StatusSource,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotRoute == "" {
		cfg.SnapshotRoute = "/radar-latest.png"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	metrics.Init()
	s := &Server{
		store:     store,
		refresher: refresher,
		status:    status,
		cfg:       cfg,
		logger:    logger,
		limiter:   ratelimit.New(cfg.RefreshInterval),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.getStatus)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get(cfg.SnapshotRoute, s.getSnapshot)
	r.Head(cfg.SnapshotRoute, s.getSnapshot)

	for _, route := range []string{"/refresh", "/update"} {
		r.Get(route, s.refresh)
		r.Post(route, s.refresh)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once there is something to serve.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Read(r.Context()); err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			s.logger.Warn("readiness read failed", zap.Error(err))
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting_for_first_snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, snapshot.RunStatus{State: snapshot.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, s.status.LastRun())
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Read(r.Context())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			if _, werr := w.Write([]byte(NotFoundBody)); werr != nil {
				s.logger.Debug("write not found body failed", zap.Error(werr))
			}
			return
		}
		s.logger.Error("snapshot read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "snapshot unavailable")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Cache-Control", "no-cache")
	h.Set("ETag", sha256.ETag(snap.Data))
	// ServeContent handles Last-Modified, conditional requests, ranges and HEAD.
	http.ServeContent(w, r, path.Base(s.cfg.SnapshotRoute), snap.ModTime, bytes.NewReader(snap.Data))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	reservation, retryAfter, ok := s.limiter.Reserve()
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate_limited"})
		return
	}
	if !s.refresher.Trigger() {
		reservation.Release()
		writeJSON(w, http.StatusConflict, map[string]string{"status": "in_progress"})
		return
	}
	s.logger.Info("manual refresh dispatched",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.RequestIDFrom(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
