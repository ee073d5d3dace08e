// Package metrics provides Prometheus metrics for the prediction service.
// It covers prediction outcomes and latency, request validation, the loaded
// model and HTTP traffic, all exposed on the service's /metrics endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the prediction service.
type Metrics struct {
	// Prediction metrics
	Predictions        *prometheus.CounterVec // Predictions served, by predicted label
	PredictionFailures prometheus.Counter     // Requests the pipeline could not score
	ValidationErrors   prometheus.Counter     // Requests rejected with 422
	PredictionLatency  prometheus.Histogram   // End-to-end pipeline latency in seconds
	PredictionScores   prometheus.Histogram   // Distribution of conversion probabilities

	// Model metrics
	ModelAUC    prometheus.Gauge     // ROC AUC recorded in the loaded artifact
	ModelLoaded prometheus.Gauge     // 1 once the artifact is loaded
	ModelAge    prometheus.GaugeFunc // Seconds since the loaded model was trained

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by method, route and status
	HTTPDuration *prometheus.HistogramVec // Request duration by route

	modelDate atomic.Int64 // unix nanos of the loaded model's training date
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions served, by predicted label",
		}, []string{"result"}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of requests the pipeline could not score",
		}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "validation_errors_total",
			Help: "Total number of requests rejected by validation",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (transform and model)",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_scores",
			Help:    "Distribution of predicted conversion probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_auc",
			Help: "ROC AUC of the loaded model on its held-out split",
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "1 when a model artifact is loaded",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.ModelAge = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "model_age_seconds",
		Help: "Age of the loaded model in seconds",
	}, m.modelAge)
	return m
}

// SetModel records the loaded model's quality and training date.
func (m *Metrics) SetModel(auc float64, trainedAt time.Time) {
	m.ModelAUC.Set(auc)
	m.ModelLoaded.Set(1)
	m.modelDate.Store(trainedAt.UnixNano())
}

func (m *Metrics) modelAge() float64 {
	date := m.modelDate.Load()
	if date == 0 {
		return 0
	}
	return time.Since(time.Unix(0, date)).Seconds()
}
