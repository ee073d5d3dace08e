package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"click-predict/internal/features"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusMessage is the body of GET /status.
const StatusMessage = "I'm OK."

// Server is the HTTP front of a Service.
type Server struct {
	service  *Service
	metrics  MetricsInterface
	gatherer prometheus.Gatherer
	timeout  time.Duration
	server   *http.Server
}

// New builds the server. gatherer backs /metrics; timeout bounds every
// request.
func New(service *Service, metrics MetricsInterface, gatherer prometheus.Gatherer, port int, timeout time.Duration) *Server {
	s := &Server{
		service:  service,
		metrics:  metrics,
		gatherer: gatherer,
		timeout:  timeout,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, accessLog(s.metrics), recoverer, timeout(s.timeout))

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("Starting prediction server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down prediction server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusMessage)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	md, err := s.service.Metadata()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if !s.service.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": ErrNotReady.Error()})
		return
	}

	req, err := decodePrediction(r)
	if err != nil {
		s.metrics.ValidationErrorsInc()
		logger.Debug().Err(err).Msg("Rejected prediction request")
		writeJSON(w, http.StatusUnprocessableEntity, err)
		return
	}

	res, err := s.service.Predict(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, features.ErrSchema):
		s.metrics.ValidationErrorsInc()
		logger.Debug().Err(err).Msg("Record rejected by feature transform")
		writeJSON(w, http.StatusUnprocessableEntity, bodyError("", err.Error(), "value_error.schema"))
	case errors.Is(err, ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": err.Error()})
	default:
		logger.Error().Err(err).Msg("Prediction failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "prediction failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
