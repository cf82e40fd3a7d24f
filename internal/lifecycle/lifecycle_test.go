package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishlense/phishlense/internal/threat"
)

// memStore is an in-memory Store for lifecycle tests.
type memStore struct {
	mu        sync.Mutex
	artifacts map[string]*threat.Artifact
	timelines map[string][]threat.TimelineEvent
}

func newMemStore() *memStore {
	return &memStore{
		artifacts: make(map[string]*threat.Artifact),
		timelines: make(map[string][]threat.TimelineEvent),
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
		if a.Severity != "" {
			stats.BySeverity[a.Severity]++
		}
		if a.SandboxExecuted {
			stats.SandboxExecuted++
		}
	}
	return stats, nil
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	result *threat.AnalysisResult
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *threat.Artifact) (*threat.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeProber struct {
	mu     sync.Mutex
	result *threat.SandboxResult
	calls  int
}

func (f *fakeProber) Execute(_ context.Context, _ *threat.Artifact) *threat.SandboxResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.result != nil {
		return f.result
	}
	return &threat.SandboxResult{
		Success:      true,
		ActionsTaken: []string{"Attempting to access URL"},
		Observations: []string{},
		Redirects:    []threat.Redirect{},
		FormsFound:   []threat.FormDescriptor{},
		Errors:       []string{},
	}
}

type fakeLimiter struct {
	allowed   bool
	remaining int
	err       error
	calls     int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, int, error) {
	f.calls++
	return f.allowed, f.remaining, f.err
}

func (f *fakeLimiter) Remaining(_ context.Context, _ string) (int, error) {
	return f.remaining, f.err
}

func okResult() *threat.AnalysisResult {
	return &threat.AnalysisResult{
		RiskScore:       82,
		Severity:        threat.SeverityHigh,
		Explanation:     "credential phishing",
		Recommendations: "Block the sender.",
	}
}

func newTestLifecycle(store Store, analyzer Analyzer, prober Prober, limiter Limiter) *Lifecycle {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, analyzer, prober, limiter, logger)
}

func eventTypes(timeline []threat.TimelineEvent) []string {
	var types []string
	for _, ev := range timeline {
		types = append(types, ev.EventType)
	}
	return types
}

func TestCreateAndAnalyzeHappyPath(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{result: okResult()}
	prober := &fakeProber{}
	lc := newTestLifecycle(store, analyzer, prober, nil)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindURL,
		Content: "http://phish.example.com",
		Source:  "user report",
	})
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, threat.StatusCompleted, a.Status)
	assert.Equal(t, threat.SeverityHigh, a.Severity)
	require.NotNil(t, a.RiskScore)
	assert.Equal(t, 82.0, *a.RiskScore)
	assert.NotNil(t, a.AnalyzedAt)
	assert.True(t, a.SandboxExecuted)
	require.NotNil(t, a.SandboxResult)

	assert.Equal(t, []string{
		threat.EventReceived,
		threat.EventAnalysisStarted,
		threat.EventAnalysisDone,
		threat.EventSandboxStarted,
		threat.EventSandboxDone,
	}, eventTypes(a.Timeline))
	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, 1, prober.calls)
}

func TestCreateAndAnalyzeTextSkipsSandbox(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{result: okResult()}
	prober := &fakeProber{}
	lc := newTestLifecycle(store, analyzer, prober, nil)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindText,
		Content: "suspicious text",
	})
	require.NoError(t, err)

	assert.False(t, a.SandboxExecuted)
	assert.Equal(t, 0, prober.calls)
	assert.Equal(t, threat.StatusCompleted, a.Status)
}

func TestCreateAndAnalyzeSandboxOptOut(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{result: okResult()}
	prober := &fakeProber{}
	lc := newTestLifecycle(store, analyzer, prober, nil)

	noSandbox := false
	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:             threat.KindURL,
		Content:          "http://x.example",
		ExecuteInSandbox: &noSandbox,
	})
	require.NoError(t, err)
	assert.False(t, a.SandboxExecuted)
	assert.Equal(t, 0, prober.calls)
}

func TestCreateAndAnalyzeValidation(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), &fakeAnalyzer{result: okResult()}, &fakeProber{}, nil)

	_, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{Kind: "bogus", Content: "x"})
	var validationErr *threat.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "kind", validationErr.Field)

	_, err = lc.CreateAndAnalyze(context.Background(), CreateRequest{Kind: threat.KindURL, Content: "   "})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "content", validationErr.Field)
}

func TestCreateAndAnalyzeAnalysisFailure(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{err: &threat.ExternalServiceError{Service: "completion", Err: errors.New("timeout")}}
	prober := &fakeProber{}
	lc := newTestLifecycle(store, analyzer, prober, nil)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindURL,
		Content: "http://x.example",
	})
	require.Error(t, err)

	var svcErr *threat.ExternalServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "completion", svcErr.Service)

	// The artifact is preserved in error status with the failure on record.
	require.NotNil(t, a)
	assert.Equal(t, threat.StatusError, a.Status)
	assert.Equal(t, []string{
		threat.EventReceived,
		threat.EventAnalysisStarted,
		threat.EventAnalysisError,
	}, eventTypes(a.Timeline))
	assert.Equal(t, 0, prober.calls, "sandbox must not run after failed analysis")
}

func TestRateLimitDeniedBeforeStateCreated(t *testing.T) {
	store := newMemStore()
	limiter := &fakeLimiter{allowed: false}
	lc := newTestLifecycle(store, &fakeAnalyzer{result: okResult()}, &fakeProber{}, limiter)

	_, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:     threat.KindURL,
		Content:  "http://x.example",
		CallerID: "caller-1",
	})

	var rateErr *threat.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "caller-1", rateErr.Key)
	assert.Empty(t, store.artifacts, "denied request must not create an artifact")
}

func TestRateLimiterFailureFailsOpen(t *testing.T) {
	store := newMemStore()
	limiter := &fakeLimiter{err: errors.New("redis down")}
	lc := newTestLifecycle(store, &fakeAnalyzer{result: okResult()}, &fakeProber{}, limiter)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:     threat.KindText,
		Content:  "text",
		CallerID: "caller-1",
	})
	require.NoError(t, err)
	assert.Equal(t, threat.StatusCompleted, a.Status)
}

func TestEmptyCallerSkipsLimiter(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	lc := newTestLifecycle(newMemStore(), &fakeAnalyzer{result: okResult()}, &fakeProber{}, limiter)

	_, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindText,
		Content: "text",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, limiter.calls)
}

func TestExecuteRunsOnce(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{}
	lc := newTestLifecycle(store, &fakeAnalyzer{result: okResult()}, prober, nil)

	noSandbox := false
	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:             threat.KindURL,
		Content:          "http://x.example",
		ExecuteInSandbox: &noSandbox,
	})
	require.NoError(t, err)

	res, err := lc.Execute(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, prober.calls)

	_, err = lc.Execute(context.Background(), a.ID)
	assert.ErrorIs(t, err, threat.ErrSandboxConflict)
	assert.Equal(t, 1, prober.calls, "conflicting execute must not probe again")
}

func TestExecuteSetsFlagEvenOnProbeFailure(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{result: &threat.SandboxResult{
		Success:      false,
		ActionsTaken: []string{},
		Observations: []string{"Invalid URL format: junk"},
		Errors:       []string{"URL must start with http:// or https://"},
	}}
	lc := newTestLifecycle(store, &fakeAnalyzer{result: okResult()}, prober, nil)

	noSandbox := false
	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:             threat.KindLink,
		Content:          "http://x.example",
		ExecuteInSandbox: &noSandbox,
	})
	require.NoError(t, err)

	res, err := lc.Execute(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)

	got, err := lc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.SandboxExecuted)
	assert.Equal(t, threat.StatusCompleted, got.Status)
	assert.Contains(t, eventTypes(got.Timeline), threat.EventSandboxDone)
}

func TestExecuteUnknownArtifact(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), &fakeAnalyzer{result: okResult()}, &fakeProber{}, nil)

	_, err := lc.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, threat.ErrNotFound)
}

func TestReanalyzeRecoversFromError(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{err: &threat.ExternalServiceError{Service: "completion", Err: errors.New("down")}}
	lc := newTestLifecycle(store, analyzer, &fakeProber{}, nil)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindText,
		Content: "text",
	})
	require.Error(t, err)
	require.Equal(t, threat.StatusError, a.Status)

	// The service comes back; reanalysis succeeds.
	analyzer.mu.Lock()
	analyzer.err = nil
	analyzer.result = okResult()
	analyzer.mu.Unlock()

	got, err := lc.Reanalyze(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, threat.StatusCompleted, got.Status)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, 82.0, *got.RiskScore)

	types := eventTypes(got.Timeline)
	assert.Contains(t, types, threat.EventReanalyzeStarted)
	assert.Equal(t, threat.EventAnalysisDone, types[len(types)-1])
}

func TestReanalyzeReplacesSnapshot(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{result: okResult()}
	lc := newTestLifecycle(store, analyzer, &fakeProber{}, nil)

	a, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
		Kind:    threat.KindText,
		Content: "text",
	})
	require.NoError(t, err)
	require.Equal(t, 82.0, *a.RiskScore)

	analyzer.mu.Lock()
	analyzer.result = &threat.AnalysisResult{
		RiskScore:   12,
		Severity:    threat.SeverityLow,
		Explanation: "benign after review",
	}
	analyzer.mu.Unlock()

	got, err := lc.Reanalyze(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, *got.RiskScore)
	assert.Equal(t, threat.SeverityLow, got.Severity)
	assert.Equal(t, "benign after review", got.Analysis.Explanation)
}

func TestRateLimitStatusWithoutLimiter(t *testing.T) {
	lc := newTestLifecycle(newMemStore(), &fakeAnalyzer{result: okResult()}, &fakeProber{}, nil)

	remaining, err := lc.RateLimitStatus(context.Background(), "caller-1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestConcurrentCreatesDistinctArtifacts(t *testing.T) {
	store := newMemStore()
	analyzer := &fakeAnalyzer{result: okResult()}
	lc := newTestLifecycle(store, analyzer, &fakeProber{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lc.CreateAndAnalyze(context.Background(), CreateRequest{
				Kind:    threat.KindText,
				Content: "text",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := lc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Total)
}
