package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/kwv/noisegraph/noise"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// newHTTPServer creates the inspection server over the latest run.
func newHTTPServer(cfg noise.HTTPConfig, state *noise.StateTracker, metrics *noise.Metrics, logger zerolog.Logger) http.Handler {
	h := &handlers{state: state, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
	}
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}

	r.Get("/health", h.health)
	r.Get("/profiles", h.profiles)
	r.Get("/profiles/{edgeID}", h.profile)
	r.Get("/diagnostics", h.diagnostics)
	r.Get("/map.svg", h.renderMap(false))
	r.Get("/map.png", h.renderMap(true))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	return r
}

type handlers struct {
	state  *noise.StateTracker
	logger zerolog.Logger
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		HasRun    bool      `json:"hasRun"`
		RunID     string    `json:"runId,omitempty"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
	}
	if snap, ok := h.state.Latest(); ok {
		status.HasRun = true
		status.RunID = snap.RunID
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *handlers) profiles(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.Latest()
	if !ok {
		http.Error(w, "No run available", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		RunID    string                   `json:"runId"`
		Profiles []noise.EdgeNoiseProfile `json:"profiles"`
	}{snap.RunID, snap.Result.Profiles})
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.Latest()
	if !ok {
		http.Error(w, "No run available", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "edgeID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid edge id", http.StatusBadRequest)
		return
	}
	p, ok := snap.Result.Profile(id)
	if !ok {
		http.Error(w, "Edge has no profile", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *handlers) diagnostics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.state.Latest()
	if !ok {
		http.Error(w, "No run available", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Summary     noise.Summary     `json:"summary"`
		Diagnostics noise.Diagnostics `json:"diagnostics"`
	}{snap.Summary, snap.Result.Diagnostics})
}

func (h *handlers) renderMap(asPNG bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := h.state.Latest()
		if !ok {
			http.Error(w, "No run available", http.StatusServiceUnavailable)
			return
		}
		renderer := noise.NewBandRenderer(snap.Edges, snap.Result.Profiles)
		w.Header().Set("Cache-Control", "no-cache")
		var err error
		if asPNG {
			w.Header().Set("Content-Type", "image/png")
			err = renderer.RenderToPNG(w)
		} else {
			w.Header().Set("Content-Type", "image/svg+xml")
			err = renderer.RenderToSVG(w)
		}
		if err != nil {
			h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("rendering band map")
		}
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding response")
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
