package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minhtran241/edge-computing-models/internal/system"
)

type statsResponse struct {
	Role   string          `json:"role"`
	NodeID string          `json:"node_id"`
	Nodes  []NamedSnapshot `json:"nodes"`
	Host   *system.Sample  `json:"host,omitempty"`
}

func (a *Agent) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !a.health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, a.health.Snapshot())
}

func (a *Agent) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Role:   string(a.cfg.Role),
		NodeID: a.cfg.NodeID,
		Nodes:  a.snapshots(),
	}
	if host := a.sampler.Last(); !host.At.IsZero() {
		resp.Host = &host
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Agent) runAdmin(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.AdminAddr)
	if addr == "" {
		return fmt.Errorf("empty admin listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen admin endpoint %s: %w", addr, err)
	}
	a.logger.Info("admin endpoint listening", "addr", ln.Addr().String())

	srv := &http.Server{Handler: a.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve admin endpoint %s: %w", addr, err)
	}
	return nil
}
