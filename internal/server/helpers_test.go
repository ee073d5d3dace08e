package server

import (
	"slices"
	"sync"
	"testing"
	"time"

	"click-predict/internal/cfg"
	"click-predict/internal/features"
	"click-predict/internal/ml"
	"click-predict/internal/session"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	predictions      map[int]int
	failures         int
	validationErrors int
	latencySum       float64
	scores           []float64
	modelAUC         float64
	modelDate        time.Time
	requests         map[string]int
}

func newMockMetrics() *MockMetrics {
	return &MockMetrics{predictions: make(map[int]int), requests: make(map[string]int)}
}

func (m *MockMetrics) PredictionsInc(result int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[result]++
}

func (m *MockMetrics) PredictionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) ValidationErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationErrors++
}

func (m *MockMetrics) PredictionLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) PredictionScoreObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, v)
}

func (m *MockMetrics) ModelLoaded(auc float64, trainedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAUC = auc
	m.modelDate = trainedAt
}

func (m *MockMetrics) HTTPRequestObserve(method, route string, code int, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[method+" "+route]++
}

// testArtifact predicts 1 exactly for desktop sessions.
func testArtifact() *ml.Artifact {
	model := &ml.GBDT{
		Params:      ml.Params{Iterations: 1, LearningRate: 0.1, Depth: 1, L2: 3, Patience: 1},
		NumFeatures: len(features.Names),
		Trees: []ml.Tree{{
			Splits: []ml.Split{{Feature: slices.Index(features.Names, session.ColDeviceCategory), Token: "desktop"}},
			Leaves: []float64{-2, 2},
		}},
	}
	info := cfg.ModelInfo{Name: "SberAutopodpiska_click_predict", Author: "Oleg Kulikov", Version: "1.0"}
	return &ml.Artifact{
		Pipeline: ml.NewPipeline(model),
		Metadata: ml.NewMetadata(info, model.Kind(), 0.713, time.Date(2023, 5, 4, 10, 30, 0, 0, time.UTC)),
	}
}

func testRecord() session.Record {
	return session.Record{
		SessionID:              "abc123",
		ClientID:               "2108382700.1637753791",
		VisitDate:              "2021-11-24",
		VisitTime:              "14:36:32",
		VisitNumber:            "1",
		UTMSource:              "ZpYIoDJMcFzVoPFsHGJL",
		UTMMedium:              "banner",
		UTMCampaign:            "LEoPHuyFvzoNfnzGgfcd",
		UTMAdContent:           "vCIpmpaGBnIQhyYNkXqp",
		UTMKeyword:             "puhZPIYqKXeFPaUviSjo",
		DeviceCategory:         "mobile",
		DeviceOS:               "Android",
		DeviceBrand:            "Huawei",
		DeviceModel:            "",
		DeviceScreenResolution: "360x720",
		DeviceBrowser:          "Chrome",
		GeoCountry:             "Russia",
		GeoCity:                "Zlatoust",
	}
}

func readyService(t *testing.T) (*Service, *MockMetrics) {
	t.Helper()
	m := newMockMetrics()
	svc := NewService(m)
	if err := svc.Install(testArtifact()); err != nil {
		t.Fatalf("install artifact: %v", err)
	}
	return svc, m
}
