// Package extract recovers structured risk data from free-form model output.
//
// Models are instructed to answer with a fixed JSON schema but frequently
// reply in prose, markdown, or half-formed JSON. The extractor runs an
// ordered list of independent strategies, each producing a typed partial
// result or nothing, and merges them with a fixed priority: JSON beats
// direct pattern extraction, which beats the threat-derived default.
// No strategy ever returns an error; parsing failures degrade to a
// best-effort fallback value.
package extract

import (
	"github.com/phishlense/phishlense/internal/threat"
)

// Partial holds whatever a single strategy managed to recover.
type Partial struct {
	RiskScore       *float64
	Severity        threat.Severity
	Recommendations string
	IsThreat        *bool
	Explanation     string
	Indicators      []string
}

// Result is the merged outcome of the full cascade. RiskScore is always
// resolved and clamped to [0,100]; ScoreSource records which strategy won.
type Result struct {
	RiskScore       float64
	Severity        threat.Severity
	Recommendations string
	IsThreat        bool
	Explanation     string
	Indicators      []string
	ScoreSource     string // "json", "pattern", or "fallback"
}

// Extractor runs the strategy cascade. The zero value is not usable; use New.
type Extractor struct {
	jsonStage  func(string) (Partial, bool)
	scoreStage func(string) (*float64, bool)
	recStage   func(string) (string, bool)
}

// New returns an extractor with the default strategy stack.
func New() *Extractor {
	return &Extractor{
		jsonStage:  extractJSON,
		scoreStage: extractRiskScore,
		recStage:   extractRecommendations,
	}
}

// Extract parses analysis text into a resolved Result.
func (e *Extractor) Extract(text string) Result {
	// JSON fast path takes absolute priority over the heuristics below.
	if p, ok := e.jsonStage(text); ok {
		return resolve(p, text, "json")
	}

	var p Partial
	if score, ok := e.scoreStage(text); ok {
		p.RiskScore = score
	}
	if rec, ok := e.recStage(text); ok {
		p.Recommendations = rec
	}
	isThreat := detectThreat(text)
	p.IsThreat = &isThreat

	source := "fallback"
	if p.RiskScore != nil {
		source = "pattern"
	}
	return resolve(p, text, source)
}

// resolve applies the fixed-priority merge and fills gaps with fallbacks.
func resolve(p Partial, text, source string) Result {
	isThreat := false
	if p.IsThreat != nil {
		isThreat = *p.IsThreat
	} else {
		isThreat = detectThreat(text)
	}

	var score float64
	if p.RiskScore != nil {
		score = *p.RiskScore
	} else {
		// Threat-boolean-derived default.
		if isThreat {
			score = 75
		} else {
			score = 25
		}
		source = "fallback"
	}
	score = threat.ClampScore(score)

	sev := p.Severity
	if !threat.ValidSeverity(sev) {
		sev = severityForScore(score)
	}

	rec := p.Recommendations
	if len(rec) <= minRecommendationLen {
		rec = summarizeRecommendations(text, isThreat)
	}

	explanation := p.Explanation
	if explanation == "" {
		explanation = text
	}

	return Result{
		RiskScore:       score,
		Severity:        sev,
		Recommendations: rec,
		IsThreat:        isThreat,
		Explanation:     explanation,
		Indicators:      p.Indicators,
		ScoreSource:     source,
	}
}

// severityForScore maps a resolved score onto a severity band when the model
// did not state one.
func severityForScore(score float64) threat.Severity {
	switch {
	case score >= 85:
		return threat.SeverityCritical
	case score >= 60:
		return threat.SeverityHigh
	case score >= 35:
		return threat.SeverityMedium
	default:
		return threat.SeverityLow
	}
}
