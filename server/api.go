// Package server exposes job submission over HTTP and runs queued jobs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

// InvalidBody is the error text for a request without a usable goal.
const InvalidBody = `Invalid request body. Must include a "goal" field.`

// APIServer accepts jobs over HTTP.
type APIServer struct {
	Submitter JobSubmitter
	Metrics   *framework.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// JobRequest is the POST /api/jobs payload.
type JobRequest struct {
	Goal string            `json:"goal" validate:"required"`
	Env  map[string]string `json:"env,omitempty"`
}

// JobResponse is the success payload.
type JobResponse struct {
	Message string     `json:"message"`
	Result  JobReceipt `json:"result"`
}

// ErrorResponse is every failure payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

var validate = validator.New()

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler routes the API.
func (s *APIServer) Handler() http.Handler {
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *APIServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: InvalidBody})
		return
	}
	req.Goal = strings.TrimSpace(req.Goal)
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: InvalidBody})
		return
	}
	receipt, err := s.Submitter.Submit(r.Context(), JobSpec{Goal: req.Goal, Env: req.Env})
	s.Metrics.ObserveJob("submit", err)
	if err != nil {
		s.logger().Error("job submission failed", zap.String("goal", req.Goal), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	s.logger().Info("job submitted", zap.String("job_id", receipt.ID), zap.String("backend", receipt.Backend))
	writeJSON(w, http.StatusOK, JobResponse{Message: "Batch job submitted successfully", Result: receipt})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
