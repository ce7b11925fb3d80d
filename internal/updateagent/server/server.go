// Package server exposes the agent's local HTTP endpoint: probes, metrics, the update
// registry and a speculative policy evaluation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/otapolicy/internal/pkg/metrics"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/options"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

const maxBodyBytes = 1 << 20

// Registry is the read side of the update store.
type Registry interface {
	Updates() []*selectionpolicy.UpdateRecord
	Launched() *selectionpolicy.UpdateRecord
}

// Previewer evaluates a candidate without side effects.
type Previewer interface {
	Preview(candidate, launched *manifest.Manifest, filters selectionpolicy.FilterSet) selectionpolicy.Decision
}

// ReadyFunc reports why the agent is not ready, or nil.
type ReadyFunc func() error

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, registry Registry, previewer Previewer, ready ReadyFunc) *Server {
	h := &handler{registry: registry, previewer: previewer, ready: ready}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/updates", h.listUpdates).Methods(http.MethodGet)
	v1.HandleFunc("/updates/launched", h.launchedUpdate).Methods(http.MethodGet)
	if opts.EnablePreview {
		v1.HandleFunc("/policy/evaluate", h.evaluate).Methods(http.MethodPost)
	}

	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: opts.Timeout,
			ReadTimeout:       opts.Timeout,
			WriteTimeout:      opts.Timeout,
		},
		options: opts,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting HTTP Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

type handler struct {
	registry  Registry
	previewer Previewer
	ready     ReadyFunc
}

// EvaluateRequest is the body of POST /v1/policy/evaluate. Launched defaults to the
// launched update of the device.
type EvaluateRequest struct {
	Candidate *manifest.Manifest        `json:"candidate"`
	Launched  *manifest.Manifest        `json:"launched,omitempty"`
	Filters   selectionpolicy.FilterSet `json:"filters,omitempty"`
}

type EvaluateResponse struct {
	Load   bool   `json:"load"`
	Check  string `json:"check,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) listUpdates(w http.ResponseWriter, r *http.Request) {
	updates := h.registry.Updates()
	out := make([]*manifest.Manifest, 0, len(updates))
	for _, u := range updates {
		out = append(out, manifest.FromRecord(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) launchedUpdate(w http.ResponseWriter, r *http.Request) {
	launched := h.registry.Launched()
	if launched == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no update launched"})
		return
	}
	writeJSON(w, http.StatusOK, manifest.FromRecord(launched))
}

func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Candidate == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "candidate is required"})
		return
	}

	d := h.previewer.Preview(req.Candidate, req.Launched, req.Filters)
	resp := EvaluateResponse{Load: d.Load, Check: string(d.Check)}
	if d.Reason != nil {
		resp.Reason = d.Reason.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}
