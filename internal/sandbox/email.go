package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/phishlense/phishlense/internal/threat"
)

// urlPattern matches http(s) URLs embedded in email bodies.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

// executeEmail extracts URLs from the email body and runs each through the
// simplified single-hop probe (redirects followed, no form harvesting),
// aggregating the observations. Only the first few URLs are probed.
func (p *Prober) executeEmail(ctx context.Context, body string) *threat.SandboxResult {
	res := newResult()

	urls := urlPattern.FindAllString(body, -1)
	res.URLsFound = urls
	res.Observations = append(res.Observations, fmt.Sprintf("Found %d URLs in email", len(urls)))

	probed := urls
	if len(probed) > p.maxEmailURLs {
		probed = probed[:p.maxEmailURLs]
	}
	for _, u := range probed {
		p.fetchSimple(ctx, res, u)
	}
	return res
}

// fetchSimple performs one redirect-following GET and records the outcome.
func (p *Prober) fetchSimple(ctx context.Context, res *threat.SandboxResult, fetchURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("Error accessing %s: %v", fetchURL, err))
		return
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.simpleClient.Do(req)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("Error accessing %s: %v", fetchURL, err))
		return
	}
	defer closeBody(resp)

	res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Accessed URL: %s", fetchURL))
	res.Observations = append(res.Observations,
		fmt.Sprintf("Final URL: %s", resp.Request.URL.String()),
		fmt.Sprintf("Status: %d", resp.StatusCode),
	)
}
