// Package rules embeds phishlense's built-in phishing indicator rules.
// They load alongside the scanner's own rule set and any operator-provided
// custom rules directory.
package rules

import "embed"

//go:embed *.yaml
var embedded embed.FS

// FS returns the embedded filesystem with the built-in indicator rules.
func FS() embed.FS {
	return embedded
}
