package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"click-predict/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(svc *Service, m *MockMetrics) http.Handler {
	return New(svc, m, prometheus.NewRegistry(), 0, 10*time.Second).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func requestBody(t *testing.T, mutate func(map[string]any)) string {
	t.Helper()
	raw, err := json.Marshal(testRecord())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	if mutate != nil {
		mutate(m)
	}
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func decodeValidation(t *testing.T, rec *httptest.ResponseRecorder) ValidationError {
	t.Helper()
	var v ValidationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.NotEmpty(t, v.Detail)
	return v
}

func TestStatus_AnsweredBeforeModelLoaded(t *testing.T) {
	m := newMockMetrics()
	h := newTestServer(NewService(m), m)

	rec := do(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusMessage, body)
	assert.Equal(t, 1, m.requests["GET /status"])
}

func TestVersion(t *testing.T) {
	m := newMockMetrics()
	unloaded := newTestServer(NewService(m), m)
	rec := do(t, unloaded, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc, m := readyService(t)
	rec = do(t, newTestServer(svc, m), http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ml.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, testArtifact().Metadata, got)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"name", "author", "version", "date", "type", "ROC_AUC"} {
		assert.Contains(t, raw, key)
	}
}

func TestPredict(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodPost, "/predict", requestBody(t, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "abc123", res.SessionID)
	assert.Contains(t, []int{0, 1}, res.Result)

	rec = do(t, h, http.MethodPost, "/predict", requestBody(t, func(m map[string]any) {
		m["device_category"] = "desktop"
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Result)
}

func TestPredict_EmptyStringsAccepted(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodPost, "/predict", requestBody(t, func(m map[string]any) {
		m["utm_keyword"] = ""
		m["device_brand"] = ""
	}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredict_UnknownFieldsIgnored(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodPost, "/predict", requestBody(t, func(m map[string]any) {
		m["extra"] = "ignored"
	}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredict_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     func(t *testing.T) string
		wantLoc  []string
		wantType string
	}{
		{
			name: "missing field",
			body: func(t *testing.T) string {
				return requestBody(t, func(m map[string]any) { delete(m, "geo_city") })
			},
			wantLoc:  []string{"body", "geo_city"},
			wantType: "value_error.missing",
		},
		{
			name: "null field",
			body: func(t *testing.T) string {
				return requestBody(t, func(m map[string]any) { m["visit_date"] = nil })
			},
			wantLoc:  []string{"body", "visit_date"},
			wantType: "value_error.missing",
		},
		{
			name: "wrong type",
			body: func(t *testing.T) string {
				return requestBody(t, func(m map[string]any) { m["visit_number"] = 3 })
			},
			wantLoc:  []string{"body", "visit_number"},
			wantType: "type_error.str",
		},
		{
			name:     "malformed json",
			body:     func(*testing.T) string { return `{"session_id": "abc123",` },
			wantLoc:  []string{"body"},
			wantType: "value_error.jsondecode",
		},
		{
			name:     "not an object",
			body:     func(*testing.T) string { return `["abc123"]` },
			wantLoc:  []string{"body"},
			wantType: "type_error.dict",
		},
		{
			name: "unparsable date",
			body: func(t *testing.T) string {
				return requestBody(t, func(m map[string]any) { m["visit_date"] = "24.11.2021" })
			},
			wantLoc:  []string{"body"},
			wantType: "value_error.schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := readyService(t)
			h := newTestServer(svc, m)

			rec := do(t, h, http.MethodPost, "/predict", tt.body(t))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			v := decodeValidation(t, rec)
			assert.Equal(t, tt.wantLoc, v.Detail[0].Loc)
			assert.Equal(t, tt.wantType, v.Detail[0].Type)
			assert.NotEmpty(t, v.Detail[0].Msg)
			assert.Equal(t, 1, m.validationErrors)
			assert.Empty(t, m.predictions)
		})
	}
}

func TestPredict_ReportsEveryMissingField(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodPost, "/predict", `{"session_id": "abc123"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	v := decodeValidation(t, rec)
	assert.Len(t, v.Detail, 17)
	fields := make([]string, 0, len(v.Detail))
	for _, d := range v.Detail {
		fields = append(fields, d.Loc[len(d.Loc)-1])
	}
	assert.Contains(t, fields, "client_id")
	assert.Contains(t, fields, "geo_city")
	assert.NotContains(t, fields, "session_id")
}

func TestPredict_EmptyBody(t *testing.T) {
	svc, m := readyService(t)
	rec := do(t, newTestServer(svc, m), http.MethodPost, "/predict", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "value_error.missing", decodeValidation(t, rec).Detail[0].Type)
}

func TestPredict_NotReady(t *testing.T) {
	m := newMockMetrics()
	h := newTestServer(NewService(m), m)

	rec := do(t, h, http.MethodPost, "/predict", requestBody(t, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, m.predictions)
}

func TestRouting(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "click_predict_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	svc, m := readyService(t)
	h := New(svc, m, reg, 0, time.Second).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "click_predict_test_total 1")
}

func TestRequestID(t *testing.T) {
	svc, m := readyService(t)
	h := newTestServer(svc, m)

	rec := do(t, h, http.MethodGet, "/status", "")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, "req-42", out.Header().Get(RequestIDHeader))
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTimeoutDisabled(t *testing.T) {
	called := false
	h := timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline := r.Context().Deadline()
		assert.False(t, hasDeadline)
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
