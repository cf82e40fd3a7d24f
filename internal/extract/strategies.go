package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/phishlense/phishlense/internal/threat"
)

// minRecommendationLen guards against truncated captures like "None." being
// accepted as a recommendation block.
const minRecommendationLen = 10

var (
	// First {...} span, greedy, spanning newlines.
	jsonSpanRe = regexp.MustCompile(`(?s)\{.*\}`)

	// "risk" followed eventually by "score", arbitrary text between.
	riskScoreLabelRe = regexp.MustCompile(`(?i)risk.*?score`)
	// First integer preceded by colon/whitespace/emphasis within the scan window.
	scoreNumberRe = regexp.MustCompile(`[:\s*]+(\d+)`)

	// Alternate score shapes tried when the proximity scan fails.
	altScoreRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)score[:\s*]+(\d+)`),
		regexp.MustCompile(`(?i)risk[:\s]+(\d+)/100`),
		regexp.MustCompile(`(?i)risk.*?level[:\s]+(\d+)`),
	}

	// Labeled recommendation blocks, captured until a blank line or emphasis
	// marker, tried in order.
	recommendationRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)recommendations?[:\n]+(.*?)(?:\n\n|\*\*|$)`),
		regexp.MustCompile(`(?is)what.*?do.*?next[:\n]+(.*?)(?:\n\n|\*\*|$)`),
		regexp.MustCompile(`(?is)action.*?required[:\n]+(.*?)(?:\n\n|\*\*|$)`),
	}
)

// scoreScanWindow is how far past the "risk ... score" label we look for the
// score value.
const scoreScanWindow = 50

// extractJSON finds the first JSON object span and, if it parses and carries
// any of the expected keys, maps it into a Partial. This is the fast path.
func extractJSON(text string) (Partial, bool) {
	span := jsonSpanRe.FindString(text)
	if span == "" {
		return Partial{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return Partial{}, false
	}

	var p Partial
	found := false

	if v, ok := numberField(raw, "risk_score"); ok {
		p.RiskScore = &v
		found = true
	}
	if v, ok := raw["severity"].(string); ok {
		sev := threat.Severity(strings.ToLower(v))
		if threat.ValidSeverity(sev) {
			p.Severity = sev
			found = true
		}
	}
	if v, ok := raw["recommendations"].(string); ok && v != "" {
		p.Recommendations = v
		found = true
	}
	if v, ok := raw["is_threat"].(bool); ok {
		p.IsThreat = &v
		found = true
	}
	if v, ok := raw["explanation"].(string); ok && v != "" {
		p.Explanation = v
		found = true
	}
	if v, ok := raw["summary"].(string); ok && p.Explanation == "" && v != "" {
		p.Explanation = v
		found = true
	}
	for _, key := range []string{"indicators", "threats_detected"} {
		if list, ok := raw[key].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					p.Indicators = append(p.Indicators, s)
				}
			}
			if len(p.Indicators) > 0 {
				found = true
			}
		}
	}

	return p, found
}

func numberField(raw map[string]any, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// extractRiskScore locates "risk ... score" and scans the following window
// for the first plausible integer. Falls back to the alternate shapes.
// Only values in [0,100] are accepted.
func extractRiskScore(text string) (*float64, bool) {
	if loc := riskScoreLabelRe.FindStringIndex(text); loc != nil {
		window := text[loc[1]:]
		if len(window) > scoreScanWindow {
			window = window[:scoreScanWindow]
		}
		if m := scoreNumberRe.FindStringSubmatch(window); m != nil {
			if score, ok := parseScore(m[1]); ok {
				return &score, true
			}
		}
	}

	for _, re := range altScoreRes {
		if m := re.FindStringSubmatch(text); m != nil {
			if score, ok := parseScore(m[1]); ok {
				return &score, true
			}
		}
	}
	return nil, false
}

func parseScore(s string) (float64, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return float64(n), true
}

// extractRecommendations returns the first labeled recommendation block long
// enough to be meaningful.
func extractRecommendations(text string) (string, bool) {
	for _, re := range recommendationRes {
		if m := re.FindStringSubmatch(text); m != nil {
			rec := strings.TrimSpace(m[1])
			if len(rec) > minRecommendationLen {
				return rec, true
			}
		}
	}
	return "", false
}

// threatKeywords is the fixed vocabulary counted by presence, not frequency.
var threatKeywords = []string{
	"threat",
	"malicious",
	"phishing",
	"suspicious",
	"attack",
	"vulnerability",
	"dangerous",
	"compromised",
	"fraudulent",
}

// safePhrases take precedence over keyword counting: any one of these
// classifies the text as not a threat regardless of keyword hits.
var safePhrases = []string{
	"no threat",
	"no security",
	"appears safe",
	"legitimate",
	"benign",
}

// detectThreat classifies text as a threat iff no safe phrase is present and
// at least two distinct threat keywords occur.
func detectThreat(text string) bool {
	lower := strings.ToLower(text)

	for _, phrase := range safePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	count := 0
	for _, kw := range threatKeywords {
		if strings.Contains(lower, kw) {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// actionCues mark sentences worth keeping when synthesizing a fallback
// recommendation from the raw analysis text.
var actionCues = []string{"should", "recommend", "action", "take", "avoid", "do not"}

// summarizeRecommendations builds a fallback recommendation from the first
// two substantial action-oriented sentences, or a canned message keyed on
// the threat flag when none qualify.
func summarizeRecommendations(text string, isThreat bool) string {
	var kept []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, cue := range actionCues {
			if strings.Contains(lower, cue) {
				kept = append(kept, sentence)
				break
			}
		}
		if len(kept) >= 2 {
			break
		}
	}
	if len(kept) > 0 {
		return strings.Join(kept, ". ") + "."
	}

	if isThreat {
		return "This content contains potential security threats. Review the full analysis and take appropriate security measures. Do not interact with any suspicious links or attachments."
	}
	return "The content appears safe, but review the full analysis for details. If you have any concerns, consult with your security team."
}
