package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/phishlense/phishlense/internal/lifecycle"
	"github.com/phishlense/phishlense/internal/safefile"
	"github.com/phishlense/phishlense/internal/threat"
)

func newAnalyzeCmd() *cobra.Command {
	var kind string
	var source string
	var fromFile string
	var noSandbox bool

	cmd := &cobra.Command{
		Use:   "analyze [content]",
		Short: "Analyze a suspicious URL, email, or text",
		Long:  "Runs the full analysis pipeline on one artifact and prints the verdict. Reads content from --file or stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(args, fromFile)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Model.APIKey == "" {
				key, err := promptAPIKey()
				if err != nil {
					return err
				}
				cfg.Model.APIKey = key
			}

			logger := newLogger(cfg)
			a, err := buildApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			execute := !noSandbox
			artifact, err := a.lifecycle.CreateAndAnalyze(context.Background(), lifecycle.CreateRequest{
				Kind:             threat.Kind(kind),
				Content:          content,
				Source:           source,
				ExecuteInSandbox: &execute,
			})
			if err != nil {
				if artifact != nil {
					printArtifact(artifact)
				}
				return err
			}

			printArtifact(artifact)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "url", "artifact kind: url, link, email, or text")
	cmd.Flags().StringVar(&source, "source", "", "where the artifact came from")
	cmd.Flags().StringVar(&fromFile, "file", "", "read content from a file (e.g. a saved .eml)")
	cmd.Flags().BoolVar(&noSandbox, "no-sandbox", false, "skip the sandbox probe")
	return cmd
}

// maxArtifactFileBytes bounds --file input. Saved emails run to a few
// hundred KB; anything larger is not worth prompting a model with.
const maxArtifactFileBytes = 5 << 20

func readContent(args []string, fromFile string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	var data []byte
	var err error
	if fromFile != "" {
		data, err = safefile.ReadFileMax(fromFile, maxArtifactFileBytes)
		if err != nil {
			return "", fmt.Errorf("reading content file: %w", err)
		}
	} else if data, err = io.ReadAll(os.Stdin); err != nil {
		return "", fmt.Errorf("reading content from stdin: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("no content given")
	}
	return content, nil
}

// promptAPIKey asks for the model API key without echoing it. Refuses to
// proceed when stdin is not a terminal.
func promptAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no API key configured: set model.api_key or OPENAI_API_KEY")
	}
	fmt.Fprint(os.Stderr, "Model API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("empty API key")
	}
	return string(key), nil
}

func printArtifact(a *threat.Artifact) {
	fmt.Println()
	fmt.Printf("  Threat:    %s\n", a.ID)
	fmt.Printf("  Kind:      %s\n", a.Kind)
	fmt.Printf("  Status:    %s\n", statusColor(a.Status).Sprint(a.Status))
	if a.RiskScore != nil {
		fmt.Printf("  Risk:      %.0f/100\n", *a.RiskScore)
	}
	if a.Severity != "" {
		fmt.Printf("  Severity:  %s\n", severityColor(a.Severity).Sprint(strings.ToUpper(string(a.Severity))))
	}

	if a.Analysis != nil {
		fmt.Println()
		fmt.Printf("  %s\n", a.Analysis.Explanation)
		for _, ind := range a.Analysis.Indicators {
			fmt.Printf("    - %s\n", ind)
		}
		if a.Analysis.Recommendations != "" {
			fmt.Println()
			fmt.Printf("  Recommended: %s\n", a.Analysis.Recommendations)
		}
	}

	if a.SandboxResult != nil {
		res := a.SandboxResult
		fmt.Println()
		fmt.Printf("  Sandbox (%d actions):\n", len(res.ActionsTaken))
		for _, obs := range res.Observations {
			line := "    " + obs
			if strings.HasPrefix(obs, "CRITICAL") {
				line = "    " + color.New(color.FgRed, color.Bold).Sprint(obs)
			}
			fmt.Println(line)
		}
		for _, rd := range res.Redirects {
			fmt.Printf("    redirect %d: %s -> %s\n", rd.Status, rd.From, rd.To)
		}
	}
	fmt.Println()
}

func severityColor(s threat.Severity) *color.Color {
	switch s {
	case threat.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case threat.SeverityHigh:
		return color.New(color.FgRed)
	case threat.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func statusColor(s threat.Status) *color.Color {
	switch s {
	case threat.StatusCompleted:
		return color.New(color.FgGreen)
	case threat.StatusError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
