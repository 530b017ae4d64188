// Package httpadmin exposes the scheduler's liveness and metrics
// surface, kept deliberately separate from the chat/completion request
// surface spec.md §1 excludes, the same way go-ethereum keeps its
// JSON-RPC surface apart from its metrics/pprof endpoints.
package httpadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rwkvcore/scheduler/internal/metrics"
)

// HealthReporter is the subset of the scheduler's state /healthz needs
// to report on, kept as a narrow interface so this package never
// imports internal/scheduler directly.
type HealthReporter interface {
	// BusySlotCount returns how many of the slot table's slots are
	// currently serving a generation task.
	BusySlotCount() int
	// SlotCount returns the total number of batch slots.
	SlotCount() int
}

// Server is the admin HTTP surface: /healthz and /metrics.
type Server struct {
	http *http.Server
}

// New builds a Server listening on addr. health may be nil, in which
// case /healthz always reports ok.
func New(addr string, health HealthReporter) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

type healthStatus struct {
	OK        bool `json:"ok"`
	BusySlots int  `json:"busySlots,omitempty"`
	SlotCount int  `json:"slotCount,omitempty"`
}

func healthHandler(health HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{OK: true}
		if health != nil {
			status.BusySlots = health.BusySlotCount()
			status.SlotCount = health.SlotCount()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// ListenAndServe blocks serving until the server is shut down or a
// fatal error occurs; http.ErrServerClosed is not treated as an error.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests before closing.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
