package analysis

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/garagon/aguara"

	"github.com/phishlense/phishlense/rules"
)

// PreScanner runs local indicator rules over artifact content before the
// model is consulted. Its findings become indicators on the analysis result
// so the report is useful even when the model reply is vague.
type PreScanner struct {
	opts    []aguara.Option
	tempDir string // temp dir for the embedded phishing rules
}

// NewPreScanner creates a pre-scanner with Aguara's built-in rules, the
// embedded phishing indicator rules, and any rules found in customRulesDir.
func NewPreScanner(customRulesDir string) *PreScanner {
	s := &PreScanner{}

	if dir, err := extractEmbeddedRules(); err == nil && dir != "" {
		s.tempDir = dir
		s.opts = append(s.opts, aguara.WithCustomRules(dir))
	}

	if customRulesDir != "" {
		s.opts = append(s.opts, aguara.WithCustomRules(customRulesDir))
	}
	return s
}

// Indicators scans the content and returns one indicator string per finding.
// Scan failures degrade to no indicators; the analysis proceeds regardless.
func (s *PreScanner) Indicators(ctx context.Context, content string) []string {
	result, err := aguara.ScanContent(ctx, content, "artifact.md", s.opts...)
	if err != nil {
		return nil
	}

	var indicators []string
	for _, f := range result.Findings {
		indicators = append(indicators,
			fmt.Sprintf("%s [%s]: %s", f.RuleName, f.Severity.String(), truncate(f.MatchedText, 120)))
	}
	return indicators
}

// Close cleans up the extracted rule files.
func (s *PreScanner) Close() {
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
}

// extractEmbeddedRules writes the embedded rule YAMLs to a temp directory
// so the scanner can load them like any custom rules dir.
func extractEmbeddedRules() (string, error) {
	dir, err := os.MkdirTemp("", "phishlense-rules-*")
	if err != nil {
		return "", err
	}

	embedded := rules.FS()
	err = fs.WalkDir(embedded, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(embedded, path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, filepath.Base(path)), data, 0o644)
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
