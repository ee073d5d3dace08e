// Package server exposes the trained prediction pipeline over HTTP.
//
// A Service starts Unloaded and becomes Ready exactly once, when the model
// artifact is installed. The artifact is immutable afterwards, so request
// handlers read it without locking.
package server

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"click-predict/internal/ml"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyLoaded is returned by a second Load or Install.
	ErrAlreadyLoaded = errors.New("model already loaded")
	// ErrNotReady is returned when predicting before a model is loaded.
	ErrNotReady = errors.New("model not loaded")
)

// MetricsInterface is the subset of metrics the service records.
type MetricsInterface interface {
	PredictionsInc(result int)
	PredictionFailuresInc()
	ValidationErrorsInc()
	PredictionLatencyObserve(seconds float64)
	PredictionScoreObserve(score float64)
	ModelLoaded(auc float64, trainedAt time.Time)
	HTTPRequestObserve(method, route string, code int, seconds float64)
}

// Service owns the loaded artifact.
type Service struct {
	artifact atomic.Pointer[ml.Artifact]
	metrics  MetricsInterface
}

// NewService returns an unloaded service.
func NewService(metrics MetricsInterface) *Service {
	return &Service{metrics: metrics}
}

// Load reads the artifact at path and installs it.
func (s *Service) Load(path string) error {
	if s.Ready() {
		return ErrAlreadyLoaded
	}
	a, err := ml.Load(path)
	if err != nil {
		return fmt.Errorf("load model %s: %w", path, err)
	}
	if err := s.Install(a); err != nil {
		return err
	}

	log.Info().
		Str("path", path).
		Str("name", a.Metadata.Name).
		Str("version", a.Metadata.Version).
		Str("type", a.Metadata.Type).
		Float64("roc_auc", a.Metadata.ROCAUC).
		Time("date", a.Metadata.Date).
		Msg("Model loaded")
	return nil
}

// Install makes a the served artifact. It succeeds once.
func (s *Service) Install(a *ml.Artifact) error {
	if a == nil || a.Pipeline == nil {
		return fmt.Errorf("%w: no pipeline", ml.ErrArtifactIncomplete)
	}
	if !s.artifact.CompareAndSwap(nil, a) {
		return ErrAlreadyLoaded
	}
	s.metrics.ModelLoaded(a.Metadata.ROCAUC, a.Metadata.Date)
	return nil
}

// Ready reports whether a model has been loaded.
func (s *Service) Ready() bool {
	return s.artifact.Load() != nil
}

// Metadata returns the loaded model's metadata.
func (s *Service) Metadata() (ml.Metadata, error) {
	a := s.artifact.Load()
	if a == nil {
		return ml.Metadata{}, ErrNotReady
	}
	return a.Metadata, nil
}

// Predict scores one validated request. Transform failures surface as the
// pipeline's error, such as features.ErrSchema.
func (s *Service) Predict(req PredictionRequest) (PredictionResult, error) {
	a := s.artifact.Load()
	if a == nil {
		return PredictionResult{}, ErrNotReady
	}

	start := time.Now()
	rec := req.Record()
	prob, err := a.Pipeline.PredictProba(rec)
	s.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		s.metrics.PredictionFailuresInc()
		return PredictionResult{}, err
	}

	result := ml.Classify(prob)
	s.metrics.PredictionScoreObserve(prob)
	s.metrics.PredictionsInc(result)

	return PredictionResult{SessionID: rec.SessionID, Result: result}, nil
}
