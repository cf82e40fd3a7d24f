package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/lifecycle"
	"github.com/phishlense/phishlense/internal/threat"
	"github.com/phishlense/phishlense/internal/traffic"
)

type memStore struct {
	mu        sync.Mutex
	artifacts map[string]*threat.Artifact
	timelines map[string][]threat.TimelineEvent
	events    map[string]*threat.TrafficEvent
}

func newMemStore() *memStore {
	return &memStore{
		artifacts: make(map[string]*threat.Artifact),
		timelines: make(map[string][]threat.TimelineEvent),
		events:    make(map[string]*threat.TrafficEvent),
	}
}

func (m *memStore) CreateArtifact(_ context.Context, a *threat.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts[a.ID] = &cp
	return nil
}

func (m *memStore) UpdateArtifact(_ context.Context, a *threat.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[a.ID]; !ok {
		return threat.ErrNotFound
	}
	cp := *a
	m.artifacts[a.ID] = &cp
	return nil
}

func (m *memStore) GetArtifact(_ context.Context, id string) (*threat.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	cp := *a
	cp.Timeline = append([]threat.TimelineEvent(nil), m.timelines[id]...)
	return &cp, nil
}

func (m *memStore) AppendEvent(_ context.Context, artifactID string, ev threat.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timelines[artifactID] = append(m.timelines[artifactID], ev)
	return nil
}

func (m *memStore) ArtifactStats(_ context.Context) (*threat.ArtifactStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &threat.ArtifactStats{
		BySeverity: map[threat.Severity]int{},
		ByKind:     map[threat.Kind]int{},
	}
	for _, a := range m.artifacts {
		stats.Total++
		stats.ByKind[a.Kind]++
	}
	return stats, nil
}

func (m *memStore) CreateTrafficEvent(_ context.Context, ev *threat.TrafficEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *memStore) UpdateTrafficEvent(_ context.Context, ev *threat.TrafficEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *memStore) GetTrafficEvent(_ context.Context, id string) (*threat.TrafficEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *memStore) TrafficStats(_ context.Context) (*threat.TrafficStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &threat.TrafficStats{Total: len(m.events)}, nil
}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *threat.Artifact) (*threat.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &threat.AnalysisResult{
		RiskScore:       77,
		Severity:        threat.SeverityHigh,
		Explanation:     "phishing lure",
		Recommendations: "Block it.",
	}, nil
}

type fakeProber struct{}

func (fakeProber) Execute(_ context.Context, _ *threat.Artifact) *threat.SandboxResult {
	return &threat.SandboxResult{
		Success:      true,
		ActionsTaken: []string{"Attempting to access URL"},
		Observations: []string{},
		Redirects:    []threat.Redirect{},
		FormsFound:   []threat.FormDescriptor{},
		Errors:       []string{},
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, key string) (bool, int, error) { return false, 0, nil }
func (denyLimiter) Remaining(_ context.Context, _ string) (int, error)     { return 0, nil }

func newTestServer(t *testing.T, analyzer lifecycle.Analyzer, limiter lifecycle.Limiter) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	lc := lifecycle.New(store, analyzer, fakeProber{}, limiter, logger)
	ing := traffic.NewIngestor(store, nil, analyzer, logger)
	s := New(config.Defaults(), lc, ing, logger)

	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateThreatEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	resp := postJSON(t, srv.URL+"/api/threats", map[string]any{
		"kind":    "url",
		"content": "http://phish.example.com",
		"source":  "user report",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	a := decode[threat.Artifact](t, resp)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, threat.StatusCompleted, a.Status)
	assert.Equal(t, threat.SeverityHigh, a.Severity)
	require.NotNil(t, a.RiskScore)
	assert.Equal(t, 77.0, *a.RiskScore)
	assert.True(t, a.SandboxExecuted)
	assert.NotEmpty(t, a.Timeline)
}

func TestCreateThreatValidation(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	resp := postJSON(t, srv.URL+"/api/threats", map[string]any{"kind": "bogus", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "kind", body.Field)
}

func TestCreateThreatMalformedJSON(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	resp, err := http.Post(srv.URL+"/api/threats", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateThreatAnalysisFailureStillCreated(t *testing.T) {
	analyzer := &fakeAnalyzer{err: &threat.ExternalServiceError{Service: "completion", Err: errors.New("down")}}
	srv := newTestServer(t, analyzer, nil)

	resp := postJSON(t, srv.URL+"/api/threats", map[string]any{"kind": "text", "content": "check this"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	a := decode[threat.Artifact](t, resp)
	assert.Equal(t, threat.StatusError, a.Status)
}

func TestCreateThreatRateLimited(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, denyLimiter{})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/threats",
		bytes.NewReader([]byte(`{"kind":"url","content":"http://x.example"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(callerHeader, "caller-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGetThreatEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	created := decode[threat.Artifact](t, postJSON(t, srv.URL+"/api/threats",
		map[string]any{"kind": "text", "content": "check this"}))

	resp, err := http.Get(srv.URL + "/api/threats/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[threat.Artifact](t, resp)
	assert.Equal(t, created.ID, got.ID)

	resp, err = http.Get(srv.URL + "/api/threats/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteEndpointConflict(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	created := decode[threat.Artifact](t, postJSON(t, srv.URL+"/api/threats",
		map[string]any{"kind": "url", "content": "http://x.example", "execute_in_sandbox": false}))
	require.False(t, created.SandboxExecuted)

	resp := postJSON(t, srv.URL+"/api/threats/"+created.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[threat.SandboxResult](t, resp)
	assert.True(t, res.Success)

	resp = postJSON(t, srv.URL+"/api/threats/"+created.ID+"/execute", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReanalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	created := decode[threat.Artifact](t, postJSON(t, srv.URL+"/api/threats",
		map[string]any{"kind": "text", "content": "check this"}))

	resp := postJSON(t, srv.URL+"/api/threats/"+created.ID+"/reanalyze", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[threat.Artifact](t, resp)
	assert.Equal(t, threat.StatusCompleted, got.Status)
}

func TestThreatStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	postJSON(t, srv.URL+"/api/threats", map[string]any{"kind": "text", "content": "a"})
	postJSON(t, srv.URL+"/api/threats", map[string]any{"kind": "text", "content": "b"})

	resp, err := http.Get(srv.URL + "/api/threats/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[threat.ArtifactStats](t, resp)
	assert.Equal(t, 2, stats.Total)
}

func TestTrafficReceiveEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	resp := postJSON(t, srv.URL+"/api/traffic/receive", map[string]any{
		"source_ip":    "203.0.113.9",
		"payload":      "verify your account",
		"payload_type": "phishing_email",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ev := decode[threat.TrafficEvent](t, resp)
	assert.Equal(t, threat.ClassMalicious, ev.Classification)

	resp = postJSON(t, srv.URL+"/api/traffic/receive", map[string]any{"payload": "x"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, denyLimiter{})

	resp, err := http.Get(srv.URL + "/api/ratelimit/caller-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "caller-1", body["caller"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.Equal(t, float64(20), body["limit"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeAnalyzer{}, nil)

	// Generate at least one instrumented request first.
	postJSON(t, srv.URL+"/api/threats", map[string]any{"kind": "text", "content": "a"})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "phishlense_http_requests_total")
}
