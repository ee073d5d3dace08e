package metrics

import (
	"strconv"
	"time"
)

// MetricsWrapper adapts Metrics to the narrow recording interface the HTTP
// server depends on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc(result int) {
	w.m.Predictions.WithLabelValues(strconv.Itoa(result)).Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *MetricsWrapper) ValidationErrorsInc() {
	w.m.ValidationErrors.Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) PredictionScoreObserve(v float64) {
	w.m.PredictionScores.Observe(v)
}

func (w *MetricsWrapper) ModelLoaded(auc float64, trainedAt time.Time) {
	w.m.SetModel(auc, trainedAt)
}

func (w *MetricsWrapper) HTTPRequestObserve(method, route string, code int, seconds float64) {
	w.m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	w.m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
