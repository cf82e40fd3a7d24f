// Package lifecycle drives an artifact from received to a terminal
// classification. It owns every status transition and timeline append; no
// other component mutates artifact state. Runs for distinct artifacts may
// proceed concurrently, but a per-id lock keeps any single artifact
// single-writer.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phishlense/phishlense/internal/threat"
)

// Store is the persistence collaborator consumed by the lifecycle.
type Store interface {
	CreateArtifact(ctx context.Context, a *threat.Artifact) error
	UpdateArtifact(ctx context.Context, a *threat.Artifact) error
	GetArtifact(ctx context.Context, id string) (*threat.Artifact, error)
	AppendEvent(ctx context.Context, artifactID string, ev threat.TimelineEvent) error
	ArtifactStats(ctx context.Context) (*threat.ArtifactStats, error)
}

// Analyzer produces an analysis result for an artifact.
type Analyzer interface {
	Analyze(ctx context.Context, a *threat.Artifact) (*threat.AnalysisResult, error)
}

// Prober executes an artifact in the sandbox.
type Prober interface {
	Execute(ctx context.Context, a *threat.Artifact) *threat.SandboxResult
}

// Limiter admits or denies analysis requests per caller.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, error)
	Remaining(ctx context.Context, key string) (int, error)
}

// Lifecycle orchestrates analysis and sandbox execution for artifacts.
type Lifecycle struct {
	store    Store
	analyzer Analyzer
	prober   Prober
	limiter  Limiter
	logger   *slog.Logger
	locks    *keyedLocks
}

// New creates a lifecycle with injected collaborators. limiter may be nil to
// disable admission control.
func New(store Store, analyzer Analyzer, prober Prober, limiter Limiter, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		analyzer: analyzer,
		prober:   prober,
		limiter:  limiter,
		logger:   logger,
		locks:    newKeyedLocks(),
	}
}

// CreateRequest is a new artifact submission from the CRUD boundary.
type CreateRequest struct {
	Kind             threat.Kind
	Content          string
	Source           string
	CallerID         string
	ExecuteInSandbox *bool // nil means true
}

// CreateAndAnalyze validates the submission, creates the artifact, analyzes
// it, and (for sandbox-applicable kinds, unless opted out) probes it.
// Validation and rate-limit failures surface before any state is created.
func (l *Lifecycle) CreateAndAnalyze(ctx context.Context, req CreateRequest) (*threat.Artifact, error) {
	if err := threat.Validate(req.Kind, req.Content); err != nil {
		return nil, err
	}
	if err := l.admit(ctx, req.CallerID); err != nil {
		return nil, err
	}

	a := &threat.Artifact{
		ID:      uuid.New().String(),
		Kind:    req.Kind,
		Content: req.Content,
		Source:  req.Source,
		Status:  threat.StatusPending,
	}
	if err := l.store.CreateArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("creating artifact: %w", err)
	}

	source := a.Source
	if source == "" {
		source = "unknown source"
	}
	l.appendEvent(ctx, a.ID, threat.EventReceived,
		fmt.Sprintf("New %s threat received from %s", a.Kind, source), nil)

	unlock := l.locks.acquire(a.ID)
	defer unlock()

	if err := l.runAnalysis(ctx, a); err != nil {
		// The artifact carries the error state; return it with the failure.
		return l.load(ctx, a.ID), err
	}

	if (req.ExecuteInSandbox == nil || *req.ExecuteInSandbox) && a.SandboxApplicable() {
		l.runSandbox(ctx, a)
	}

	return l.load(ctx, a.ID), nil
}

// Execute probes an existing artifact in the sandbox. A second call for the
// same artifact returns ErrSandboxConflict without any network activity.
func (l *Lifecycle) Execute(ctx context.Context, id string) (*threat.SandboxResult, error) {
	unlock := l.locks.acquire(id)
	defer unlock()

	a, err := l.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.SandboxExecuted {
		return nil, threat.ErrSandboxConflict
	}

	res := l.runSandbox(ctx, a)
	return res, nil
}

// Reanalyze re-enters the analysis state from any current state, including
// error and completed. Always permitted so analysts can re-classify after
// manual review.
func (l *Lifecycle) Reanalyze(ctx context.Context, id string) (*threat.Artifact, error) {
	unlock := l.locks.acquire(id)
	defer unlock()

	a, err := l.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}

	l.appendEvent(ctx, a.ID, threat.EventReanalyzeStarted, "Re-analysis requested", nil)

	if err := l.runAnalysis(ctx, a); err != nil {
		return l.load(ctx, a.ID), err
	}
	return l.load(ctx, a.ID), nil
}

// Get returns an artifact with its timeline.
func (l *Lifecycle) Get(ctx context.Context, id string) (*threat.Artifact, error) {
	return l.store.GetArtifact(ctx, id)
}

// Stats aggregates artifact counts.
func (l *Lifecycle) Stats(ctx context.Context) (*threat.ArtifactStats, error) {
	return l.store.ArtifactStats(ctx)
}

// RateLimitStatus reports how many analysis requests the caller has left.
func (l *Lifecycle) RateLimitStatus(ctx context.Context, callerID string) (int, error) {
	if l.limiter == nil {
		return 0, nil
	}
	return l.limiter.Remaining(ctx, callerID)
}

// admit checks the caller's quota. Limiter infrastructure failures fail
// open: an unreachable counter store must not stop threat analysis.
func (l *Lifecycle) admit(ctx context.Context, callerID string) error {
	if l.limiter == nil || callerID == "" {
		return nil
	}
	allowed, remaining, err := l.limiter.Allow(ctx, callerID)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, admitting request", "caller", callerID, "error", err)
		return nil
	}
	if !allowed {
		return &threat.RateLimitError{Key: callerID, Remaining: remaining}
	}
	return nil
}

// runAnalysis performs one analysis attempt with its full status and
// timeline bookkeeping. The caller must hold the artifact's lock.
func (l *Lifecycle) runAnalysis(ctx context.Context, a *threat.Artifact) error {
	l.transition(ctx, a, threat.StatusAnalyzing)
	l.appendEvent(ctx, a.ID, threat.EventAnalysisStarted, "Started AI analysis of threat", nil)

	result, err := l.analyzer.Analyze(ctx, a)
	if err != nil {
		l.transition(ctx, a, threat.StatusError)
		l.appendEvent(ctx, a.ID, threat.EventAnalysisError,
			fmt.Sprintf("Error during analysis: %v", err), nil)
		l.logger.Error("analysis failed", "artifact_id", a.ID, "error", err)

		var svcErr *threat.ExternalServiceError
		if errors.As(err, &svcErr) {
			return err
		}
		return &threat.ExternalServiceError{Service: "analysis", Err: err}
	}

	// The result snapshot replaces any previous one wholesale.
	a.Analysis = result
	a.Severity = result.Severity
	a.SetRiskScore(result.RiskScore)
	now := time.Now().UTC()
	a.AnalyzedAt = &now
	l.transition(ctx, a, threat.StatusCompleted)

	l.appendEvent(ctx, a.ID, threat.EventAnalysisDone,
		fmt.Sprintf("AI analysis completed. Risk score: %.0f, Severity: %s", result.RiskScore, result.Severity),
		map[string]string{"score_source": "analysis"})
	return nil
}

// runSandbox performs one sandbox probe with its bookkeeping. The
// sandbox_executed flag transitions false to true exactly once, whatever
// the probe outcome. The caller must hold the artifact's lock.
func (l *Lifecycle) runSandbox(ctx context.Context, a *threat.Artifact) *threat.SandboxResult {
	l.transition(ctx, a, threat.StatusExecuting)
	l.appendEvent(ctx, a.ID, threat.EventSandboxStarted, "Started sandbox execution", nil)

	res := l.prober.Execute(ctx, a)

	a.SandboxExecuted = true
	a.SandboxResult = res

	if ctx.Err() != nil {
		// An aborted run must not leave the artifact stuck in "executing".
		l.transition(ctx, a, threat.StatusError)
		l.appendEvent(context.WithoutCancel(ctx), a.ID, threat.EventSandboxError,
			fmt.Sprintf("Error during sandbox execution: %v", ctx.Err()), nil)
		return res
	}

	l.transition(ctx, a, threat.StatusCompleted)
	l.appendEvent(ctx, a.ID, threat.EventSandboxDone,
		fmt.Sprintf("Sandbox execution completed. Actions taken: %d", len(res.ActionsTaken)), nil)
	return res
}

// transition moves the artifact to the given status and persists it.
func (l *Lifecycle) transition(ctx context.Context, a *threat.Artifact, status threat.Status) {
	a.Status = status
	if err := l.store.UpdateArtifact(context.WithoutCancel(ctx), a); err != nil {
		l.logger.Error("persisting status transition failed",
			"artifact_id", a.ID, "status", status, "error", err)
	}
}

func (l *Lifecycle) appendEvent(ctx context.Context, id, eventType, description string, metadata map[string]string) {
	ev := threat.TimelineEvent{
		EventType:   eventType,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Metadata:    metadata,
	}
	if err := l.store.AppendEvent(context.WithoutCancel(ctx), id, ev); err != nil {
		l.logger.Error("appending timeline event failed",
			"artifact_id", id, "event_type", eventType, "error", err)
	}
}

// load re-reads the artifact; on failure it returns nil and the caller's
// existing error context stands.
func (l *Lifecycle) load(ctx context.Context, id string) *threat.Artifact {
	a, err := l.store.GetArtifact(context.WithoutCancel(ctx), id)
	if err != nil {
		l.logger.Error("reloading artifact failed", "artifact_id", id, "error", err)
		return nil
	}
	return a
}
