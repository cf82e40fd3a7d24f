// Package sandbox probes suspicious URLs in a controlled fashion: it follows
// redirects one hop at a time, discovers HTML forms, submits synthetic decoy
// data into them, and records everything it sees. Connection failures are
// forensic signal, not errors; a probe only fails when no usable URL can be
// formed from the artifact at all.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/threat"
)

// userAgent identifies sandbox traffic to probed servers.
const userAgent = "Mozilla/5.0 (PhishLense Sandbox)"

// maxBodyBytes bounds how much of a probed page is read.
const maxBodyBytes = 2 << 20

// Prober executes artifacts against the live network inside the bounds set
// by config. All fetches are blocking with per-call timeouts; a single run
// is strictly sequential.
type Prober struct {
	client       *http.Client // redirects disabled
	simpleClient *http.Client // follows redirects; used for email URL hops
	maxRedirects int
	maxEmailURLs int
	logger       *slog.Logger
}

// NewProber creates a prober. transport may be nil for the default transport;
// callers inject an instrumented transport in production.
func NewProber(cfg config.SandboxConfig, transport http.RoundTripper, logger *slog.Logger) *Prober {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	emailTimeout := time.Duration(cfg.EmailTimeoutS) * time.Second
	if emailTimeout <= 0 {
		emailTimeout = 10 * time.Second
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	maxEmailURLs := cfg.MaxEmailURLs
	if maxEmailURLs <= 0 {
		maxEmailURLs = 3
	}

	return &Prober{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		simpleClient: &http.Client{
			Timeout:   emailTimeout,
			Transport: transport,
		},
		maxRedirects: maxRedirects,
		maxEmailURLs: maxEmailURLs,
		logger:       logger,
	}
}

// Execute probes the artifact and returns the observation record. The result
// is complete even on failure; Success is false only when the artifact could
// not be turned into a probe at all.
func (p *Prober) Execute(ctx context.Context, a *threat.Artifact) *threat.SandboxResult {
	switch a.Kind {
	case threat.KindURL, threat.KindLink:
		return p.executeURL(ctx, a.Content)
	case threat.KindEmail:
		return p.executeEmail(ctx, a.Content)
	default:
		return &threat.SandboxResult{
			Success:      true,
			ActionsTaken: []string{},
			Observations: []string{"Sandbox execution not applicable for this artifact kind"},
			Redirects:    []threat.Redirect{},
			FormsFound:   []threat.FormDescriptor{},
			Errors:       []string{},
		}
	}
}

// executeURL runs the full probe: normalize, bounded redirect loop, form
// discovery and submission, page signature scan.
func (p *Prober) executeURL(ctx context.Context, content string) *threat.SandboxResult {
	res := newResult()

	rawURL, err := NormalizeURL(content)
	if err != nil {
		res.Success = false
		res.Observations = append(res.Observations, fmt.Sprintf("Invalid URL format: %s", strings.TrimSpace(content)))
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	p.logger.Info("probing url", "url", rawURL)

	currentURL := rawURL
	res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Attempting to access URL: %s", currentURL))

	for redirectCount := 0; redirectCount < p.maxRedirects; redirectCount++ {
		resp, err := p.get(ctx, currentURL)
		if err != nil {
			p.recordFetchFailure(res, currentURL, err)
			break
		}

		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Successfully accessed URL: %s", currentURL))
		res.Observations = append(res.Observations, fmt.Sprintf("HTTP Status: %d", resp.StatusCode))

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			closeBody(resp)
			if location != "" {
				next := resolveURL(currentURL, location)
				res.Redirects = append(res.Redirects, threat.Redirect{
					From:   currentURL,
					To:     location,
					Status: resp.StatusCode,
				})
				currentURL = next
				continue
			}
			break
		}

		contentType := resp.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			body, readErr := readBody(resp)
			closeBody(resp)
			if readErr != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("Error reading response body: %v", readErr))
				break
			}
			p.inspectPage(ctx, res, currentURL, body)
		} else {
			closeBody(resp)
			if contentType == "" {
				contentType = "unknown"
			}
			res.Observations = append(res.Observations, fmt.Sprintf("Response is not HTML (Content-Type: %s)", contentType))
		}
		break
	}

	res.Observations = append(res.Observations, fmt.Sprintf("Total redirects followed: %d", len(res.Redirects)))
	return res
}

// inspectPage discovers and submits forms, then scans the page's visible
// text for suspicious signatures.
func (p *Prober) inspectPage(ctx context.Context, res *threat.SandboxResult, pageURL, body string) {
	forms := parseForms(body)
	for _, form := range forms {
		desc := form.descriptor()
		res.FormsFound = append(res.FormsFound, desc)
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Found form with %d fields", len(desc.Fields)))

		payload := fillForm(form)
		if len(payload) > 0 && form.action != "" {
			p.submitForm(ctx, res, pageURL, form, payload)
		}
	}

	text := strings.ToLower(visibleText(body))
	for _, sig := range suspiciousSignatures {
		if sig.re.MatchString(text) {
			res.Observations = append(res.Observations, sig.description)
		}
	}
}

// submitForm sends the decoy payload to the form's resolved action URL and
// analyzes how the server handles it.
func (p *Prober) submitForm(ctx context.Context, res *threat.SandboxResult, pageURL string, form formInfo, payload url.Values) {
	actionURL := resolveURL(pageURL, form.action)

	var resp *http.Response
	var err error
	if form.method == http.MethodPost {
		resp, err = p.post(ctx, actionURL, payload)
	} else {
		resp, err = p.get(ctx, actionURL+"?"+payload.Encode())
	}
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("Error submitting form: %v", err))
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Failed to submit form to %s", actionURL))
		return
	}
	defer closeBody(resp)

	res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Submitted form to %s (method: %s)", actionURL, form.method))
	res.Observations = append(res.Observations, fmt.Sprintf("Form submission status: %d", resp.StatusCode))

	if isRedirect(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location != "" {
			res.Redirects = append(res.Redirects, threat.Redirect{
				From:   actionURL,
				To:     location,
				Status: resp.StatusCode,
				Reason: "Form submission redirect",
			})
			res.Observations = append(res.Observations, fmt.Sprintf("Form submission redirected to: %s", location))

			// Off-host redirect after swallowing credentials is the
			// strongest exfiltration signal the probe can produce.
			resolved := resolveURL(actionURL, location)
			if hostOf(resolved) != hostOf(pageURL) {
				res.Observations = append(res.Observations,
					fmt.Sprintf("CRITICAL: Form redirected to different domain: %s", location))
			}
		}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, err := readBody(resp)
		if err != nil {
			return
		}
		text := strings.ToLower(visibleText(body))
		for _, word := range []string{"success", "thank you", "welcome", "logged in"} {
			if strings.Contains(text, word) {
				res.Observations = append(res.Observations,
					"Form submission appears successful - potential credential harvesting!")
				break
			}
		}
	}
}

// recordFetchFailure classifies a fetch error into the failure taxonomy.
// Every category is informative rather than fatal: an unreachable host tells
// us something about the artifact, so the run stays successful.
func (p *Prober) recordFetchFailure(res *threat.SandboxResult, fetchURL string, err error) {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Request to %s timed out", fetchURL))
		res.Observations = append(res.Observations, "URL did not respond within timeout period")
		res.Errors = append(res.Errors, fmt.Sprintf("Request to %s timed out", fetchURL))

	case errors.As(err, &dnsErr):
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Failed to connect to %s", fetchURL))
		res.Observations = append(res.Observations,
			"DNS resolution failed - domain does not exist or is unreachable",
			"This could indicate: fake domain, typo-squatting, or malicious site")
		res.Errors = append(res.Errors, fmt.Sprintf("Connection error: %v", err))

	case errors.Is(err, syscall.ECONNREFUSED):
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Failed to connect to %s", fetchURL))
		res.Observations = append(res.Observations, "Connection refused - server is not accepting connections")
		res.Errors = append(res.Errors, fmt.Sprintf("Connection error: %v", err))

	case isConnectionError(err):
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Failed to connect to %s", fetchURL))
		res.Observations = append(res.Observations, fmt.Sprintf("Connection error: %v", err))
		res.Errors = append(res.Errors, fmt.Sprintf("Connection error: %v", err))

	default:
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("Request to %s failed", fetchURL))
		res.Observations = append(res.Observations, fmt.Sprintf("Request error: %v", err))
		res.Errors = append(res.Errors, fmt.Sprintf("Request error: %v", err))
	}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (p *Prober) get(ctx context.Context, fetchURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return p.client.Do(req)
}

func (p *Prober) post(ctx context.Context, fetchURL string, payload url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fetchURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.client.Do(req)
}

// NormalizeURL turns raw artifact content into a fetchable URL, inferring
// http:// for bare domains and www.-prefixed hosts. Content that cannot form
// a URL is the one condition that fails a probe.
func NormalizeURL(content string) (string, error) {
	u := strings.TrimSpace(content)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u, nil
	}
	if strings.HasPrefix(u, "www.") {
		return "http://" + u, nil
	}
	if !strings.Contains(u, "://") && strings.Contains(u, ".") && !strings.HasPrefix(u, "/") {
		return "http://" + u, nil
	}
	return "", fmt.Errorf("URL must start with http:// or https://")
}

func newResult() *threat.SandboxResult {
	return &threat.SandboxResult{
		Success:      true,
		ActionsTaken: []string{},
		Observations: []string{},
		Redirects:    []threat.Redirect{},
		FormsFound:   []threat.FormDescriptor{},
		Errors:       []string{},
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveURL joins a possibly-relative reference against a base URL.
func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func readBody(resp *http.Response) (string, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
