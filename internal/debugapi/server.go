// Package debugapi is the optional HTTP surface mounted only when
// -metrics-addr is configured: a Prometheus scrape endpoint plus a small
// JSON view of the live flow table, modeled on the teacher's chi-based
// internal/api server.
package debugapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/rlnctun/internal/mux"
)

// FlowTable is the subset of *mux.Table the debug API needs; satisfied by
// *mux.Table itself, narrowed so tests can supply a fake.
type FlowTable interface {
	Flows() []*mux.Flow
	Len() int
}

// Server holds the debug API's handler dependencies and chi router.
type Server struct {
	router *chi.Mux
	table  FlowTable
}

// NewServer builds the debug API, wiring reg's collectors into /metrics
// and table into /flows. reg may be nil to use the default global registry.
func NewServer(table FlowTable, reg prometheus.Gatherer) *Server {
	s := &Server{router: chi.NewRouter(), table: table}

	r := s.router
	r.Use(chimw.RequestID)
	r.Use(structuredLogger)
	r.Use(chimw.Recoverer)

	if reg == nil {
		r.Handle("/metrics", promhttp.Handler())
	} else {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Get("/flows", s.handleFlows)
	r.Get("/healthz", s.handleHealthz)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type flowView struct {
	Key          string `json:"key"`
	State        string `json:"state"`
	EncoderRank  int    `json:"encoder_window_fill"`
	DecoderRank  int    `json:"decoder_rank"`
	LastActivity string `json:"last_activity"`
}

// handleFlows renders the current flow table as JSON, one entry per flow.
func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.table.Flows()
	out := make([]flowView, 0, len(flows))
	for _, f := range flows {
		out = append(out, flowView{
			Key:          f.Key.String(),
			State:        f.State.String(),
			EncoderRank:  f.Encoder.WindowLen(),
			DecoderRank:  f.Decoder.Rank(),
			LastActivity: f.LastActivity.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_flows": s.table.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("debugapi: failed to encode json response", "error", err)
	}
}

// structuredLogger mirrors the teacher's internal/api/middleware.StructuredLogger.
func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("debugapi request",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
