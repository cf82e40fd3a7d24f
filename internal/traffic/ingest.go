// Package traffic ingests external traffic events, classifies them with the
// ML collaborator (falling back to a payload-type heuristic), and runs the
// analysis engine over anything judged malicious.
package traffic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phishlense/phishlense/internal/classify"
	"github.com/phishlense/phishlense/internal/threat"
)

// Store is the persistence surface the ingestor needs.
type Store interface {
	CreateTrafficEvent(ctx context.Context, ev *threat.TrafficEvent) error
	UpdateTrafficEvent(ctx context.Context, ev *threat.TrafficEvent) error
	GetTrafficEvent(ctx context.Context, id string) (*threat.TrafficEvent, error)
	TrafficStats(ctx context.Context) (*threat.TrafficStats, error)
}

// Analyzer matches the analysis engine contract.
type Analyzer interface {
	Analyze(ctx context.Context, a *threat.Artifact) (*threat.AnalysisResult, error)
}

// Ingestor processes incoming traffic submissions.
type Ingestor struct {
	store      Store
	classifier classify.Classifier
	analyzer   Analyzer
	logger     *slog.Logger
}

// NewIngestor creates an ingestor. classifier may be nil when the ML service
// is not configured; classification then rests on the payload-type table.
func NewIngestor(store Store, classifier classify.Classifier, analyzer Analyzer, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:      store,
		classifier: classifier,
		analyzer:   analyzer,
		logger:     logger,
	}
}

// Submission is one traffic observation from an external integration.
type Submission struct {
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	Payload       string `json:"payload"`
	PayloadType   string `json:"payload_type,omitempty"`
	Organization  string `json:"organization,omitempty"`
}

// Receive creates the event, classifies it, and analyzes malicious traffic.
func (i *Ingestor) Receive(ctx context.Context, sub Submission) (*threat.TrafficEvent, error) {
	if sub.SourceIP == "" {
		return nil, &threat.ValidationError{Field: "source_ip", Message: "source_ip is required"}
	}
	if sub.Payload == "" {
		return nil, &threat.ValidationError{Field: "payload", Message: "payload is required"}
	}
	payloadType := sub.PayloadType
	if payloadType == "" {
		payloadType = "unknown"
	}

	ev := &threat.TrafficEvent{
		ID:             uuid.New().String(),
		SourceIP:       sub.SourceIP,
		DestinationIP:  sub.DestinationIP,
		Port:           sub.Port,
		Payload:        sub.Payload,
		PayloadType:    payloadType,
		Organization:   sub.Organization,
		Status:         threat.StatusPending,
		Classification: threat.ClassUnknown,
	}
	if err := i.store.CreateTrafficEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("creating traffic event: %w", err)
	}

	prediction := i.predict(ctx, ev)
	ev.MLPrediction = string(prediction.Prediction)
	ev.MLConfidence = prediction.Confidence

	// Classification priority: ML verdict first, payload-type table second.
	switch {
	case prediction.Prediction == threat.ClassMalicious || classify.IsPhishingPayloadType(ev.PayloadType):
		ev.Classification = threat.ClassMalicious
		ev.Severity = classify.SeverityForPayloadType(ev.PayloadType)
		i.analyzeMalicious(ctx, ev)
	case prediction.Prediction == threat.ClassNormal:
		ev.Classification = threat.ClassNormal
		ev.Status = threat.StatusCompleted
	default:
		ev.Classification = threat.ClassUnknown
		ev.Status = threat.StatusCompleted
	}

	if err := i.store.UpdateTrafficEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("updating traffic event: %w", err)
	}
	return ev, nil
}

// Get returns one traffic event.
func (i *Ingestor) Get(ctx context.Context, id string) (*threat.TrafficEvent, error) {
	return i.store.GetTrafficEvent(ctx, id)
}

// Stats aggregates event counts by classification.
func (i *Ingestor) Stats(ctx context.Context) (*threat.TrafficStats, error) {
	return i.store.TrafficStats(ctx)
}

func (i *Ingestor) predict(ctx context.Context, ev *threat.TrafficEvent) classify.Prediction {
	if i.classifier == nil {
		return classify.Prediction{Prediction: threat.ClassUnknown}
	}
	pred, err := i.classifier.Predict(ctx, classify.Sample{
		SourceIP:      ev.SourceIP,
		DestinationIP: ev.DestinationIP,
		Payload:       ev.Payload,
		PayloadType:   ev.PayloadType,
		Port:          ev.Port,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		i.logger.Warn("classifier unavailable, using payload-type fallback",
			"event_id", ev.ID, "error", err)
		return classify.Prediction{Prediction: threat.ClassUnknown}
	}
	return pred
}

// analyzeMalicious runs the language-model analysis over the payload and
// copies the result onto the event. Analysis failure leaves the event in
// error status but the classification stands.
func (i *Ingestor) analyzeMalicious(ctx context.Context, ev *threat.TrafficEvent) {
	ev.Status = threat.StatusAnalyzing

	artifact := &threat.Artifact{
		ID:      ev.ID,
		Kind:    threat.KindText,
		Content: ev.Payload,
		Source:  ev.SourceIP,
	}

	result, err := i.analyzer.Analyze(ctx, artifact)
	if err != nil {
		i.logger.Error("traffic analysis failed", "event_id", ev.ID, "error", err)
		ev.Status = threat.StatusError
		return
	}

	score := threat.ClampScore(result.RiskScore)
	ev.RiskScore = &score
	if threat.ValidSeverity(result.Severity) {
		ev.Severity = result.Severity
	}
	ev.Explanation = result.Explanation
	ev.Recommendations = result.Recommendations
	ev.Status = threat.StatusCompleted
}
