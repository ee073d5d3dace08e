package server

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"click-predict/internal/features"
	"click-predict/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_LoadOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "click_model.zst")
	_, err := ml.Save(path, testArtifact())
	require.NoError(t, err)

	m := newMockMetrics()
	svc := NewService(m)
	assert.False(t, svc.Ready())

	require.NoError(t, svc.Load(path))
	assert.True(t, svc.Ready())
	assert.Equal(t, 0.713, m.modelAUC)

	err = svc.Load(path)
	assert.True(t, errors.Is(err, ErrAlreadyLoaded))
}

func TestService_LoadFailureStaysUnloaded(t *testing.T) {
	svc := NewService(newMockMetrics())

	err := svc.Load(filepath.Join(t.TempDir(), "missing.zst"))
	require.Error(t, err)
	assert.False(t, svc.Ready())

	_, err = svc.Metadata()
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestService_ConcurrentInstallOnlyOneWins(t *testing.T) {
	svc := NewService(newMockMetrics())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Install(testArtifact()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, svc.Ready())
}

func TestService_InstallRejectsEmptyArtifact(t *testing.T) {
	svc := NewService(newMockMetrics())

	err := svc.Install(&ml.Artifact{})
	assert.True(t, errors.Is(err, ml.ErrArtifactIncomplete))
	assert.False(t, svc.Ready())
}

func TestService_Predict(t *testing.T) {
	svc, m := readyService(t)

	rec := testRecord()
	res, err := svc.Predict(NewPredictionRequest(rec))
	require.NoError(t, err)
	assert.Equal(t, PredictionResult{SessionID: "abc123", Result: 0}, res)

	rec.DeviceCategory = "desktop"
	res, err = svc.Predict(NewPredictionRequest(rec))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Result)

	assert.Equal(t, 1, m.predictions[0])
	assert.Equal(t, 1, m.predictions[1])
	assert.Len(t, m.scores, 2)
}

func TestService_PredictMatchesPipeline(t *testing.T) {
	svc, _ := readyService(t)
	a := testArtifact()

	rec := testRecord()
	want, err := a.Pipeline.Predict(rec)
	require.NoError(t, err)

	res, err := svc.Predict(NewPredictionRequest(rec))
	require.NoError(t, err)
	assert.Equal(t, want, res.Result)
}

func TestService_PredictErrors(t *testing.T) {
	_, err := NewService(newMockMetrics()).Predict(NewPredictionRequest(testRecord()))
	assert.True(t, errors.Is(err, ErrNotReady))

	svc, m := readyService(t)
	rec := testRecord()
	rec.VisitDate = "24.11.2021"
	_, err = svc.Predict(NewPredictionRequest(rec))
	assert.True(t, errors.Is(err, features.ErrSchema))
	assert.Equal(t, 1, m.failures)
}

func TestPredictionRequest_RecordRoundTrip(t *testing.T) {
	rec := testRecord()
	assert.Equal(t, rec, NewPredictionRequest(rec).Record())
	assert.Equal(t, "", PredictionRequest{}.Record().GeoCity)
}
