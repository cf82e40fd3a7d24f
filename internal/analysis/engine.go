// Package analysis classifies artifacts with an external language model and
// recovers structured results from whatever the model sends back.
package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/extract"
	"github.com/phishlense/phishlense/internal/threat"
)

const (
	// systemPrompt frames the model as an analyst. Kept stable so responses
	// stay parseable by the extractor cascade.
	systemPrompt = "You are a cybersecurity expert analyzing potential phishing and security threats. Provide detailed, actionable analysis."

	// Content budgets keep prompts inside model context limits.
	threatContentBudget = 2000
	textContentBudget   = 4000
)

// Engine builds classification requests, invokes the completion collaborator,
// and turns the reply into an AnalysisResult. It performs no status
// transitions and writes no timeline events; the lifecycle owns those.
type Engine struct {
	completer Completer
	extractor *extract.Extractor
	prescan   *PreScanner
	model     config.ModelConfig
	logger    *slog.Logger
}

// NewEngine creates an analysis engine with injected collaborators.
func NewEngine(completer Completer, prescan *PreScanner, model config.ModelConfig, logger *slog.Logger) *Engine {
	return &Engine{
		completer: completer,
		extractor: extract.New(),
		prescan:   prescan,
		model:     model,
		logger:    logger,
	}
}

// Analyze classifies the artifact and returns an immutable result snapshot.
// Re-invocation is always allowed; each call produces a fresh result that
// replaces any previous one. Collaborator failures surface as
// ExternalServiceError.
func (e *Engine) Analyze(ctx context.Context, a *threat.Artifact) (*threat.AnalysisResult, error) {
	prompt := e.buildPrompt(a)

	text, err := e.completer.Complete(ctx, systemPrompt, prompt, e.model.Temperature, e.model.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("completing analysis: %w", err)
	}

	parsed := e.extractor.Extract(text)

	indicators := parsed.Indicators
	if e.prescan != nil {
		indicators = append(indicators, e.prescan.Indicators(ctx, a.Content)...)
	}

	result := &threat.AnalysisResult{
		RiskScore:       threat.ClampScore(parsed.RiskScore),
		Severity:        parsed.Severity,
		Explanation:     parsed.Explanation,
		Indicators:      indicators,
		Recommendations: parsed.Recommendations,
		RawAnalysis:     text,
	}

	e.logger.Debug("analysis parsed",
		"artifact_id", a.ID,
		"risk_score", result.RiskScore,
		"severity", result.Severity,
		"score_source", parsed.ScoreSource,
		"threat", parsed.IsThreat,
	)
	return result, nil
}

// buildPrompt renders the classification request for the artifact, truncating
// content to the kind's character budget.
func (e *Engine) buildPrompt(a *threat.Artifact) string {
	if a.Kind == threat.KindText {
		return fmt.Sprintf(`Analyze this content for security threats, phishing attempts, malicious links, or suspicious patterns.

Content:
%s

Provide:
1. A clear summary of what this content is
2. Any security threats or suspicious patterns detected
3. Risk assessment (0-100 score)
4. Recommended actions

Format your response as JSON:
{
    "summary": "Brief summary",
    "is_threat": true/false,
    "risk_score": 0-100,
    "threats_detected": ["threat1", "threat2"],
    "recommendations": "What to do next"
}`, truncate(a.Content, textContentBudget))
	}

	source := a.Source
	if source == "" {
		source = "Unknown"
	}
	return fmt.Sprintf(`Analyze this potential security threat:

Threat Type: %s
Source: %s
Content: %s

Please provide:
1. A risk score from 0-100 (where 0 is safe, 100 is critical threat)
2. Severity level: LOW, MEDIUM, HIGH, or CRITICAL
3. A clear explanation of what makes this suspicious or dangerous
4. Specific indicators of compromise or malicious behavior
5. Recommended actions for the organization

Format your response as JSON with the following structure:
{
    "risk_score": <number>,
    "severity": "<LOW|MEDIUM|HIGH|CRITICAL>",
    "explanation": "<detailed explanation>",
    "indicators": ["<indicator1>", "<indicator2>", ...],
    "recommendations": "<actionable recommendations>"
}`, a.Kind, source, truncate(a.Content, threatContentBudget))
}
