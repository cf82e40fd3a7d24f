// Package sdk provides a Go client for the phishlense analysis API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8090", "mail-gateway-7")
//	t, err := c.SubmitThreat(ctx, sdk.SubmitRequest{Kind: "url", Content: "http://suspicious.example"})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SubmitRequest is sent to POST /api/threats.
type SubmitRequest struct {
	Kind             string `json:"kind"`
	Content          string `json:"content"`
	Source           string `json:"source,omitempty"`
	ExecuteInSandbox *bool  `json:"execute_in_sandbox,omitempty"`
}

// TrafficRequest is sent to POST /api/traffic/receive.
type TrafficRequest struct {
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	Payload       string `json:"payload"`
	PayloadType   string `json:"payload_type,omitempty"`
	Organization  string `json:"organization,omitempty"`
}

// Threat is an analyzed artifact as returned by the API.
type Threat struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Content         string          `json:"content"`
	Source          string          `json:"source,omitempty"`
	Status          string          `json:"status"`
	Severity        string          `json:"severity,omitempty"`
	RiskScore       *float64        `json:"risk_score,omitempty"`
	Analysis        *Analysis       `json:"analysis,omitempty"`
	SandboxExecuted bool            `json:"sandbox_executed"`
	SandboxResult   *SandboxResult  `json:"sandbox_result,omitempty"`
	Timeline        []TimelineEvent `json:"timeline,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	AnalyzedAt      *time.Time      `json:"analyzed_at,omitempty"`
}

// Analysis is the structured verdict attached to a threat.
type Analysis struct {
	RiskScore       float64  `json:"risk_score"`
	Severity        string   `json:"severity"`
	Explanation     string   `json:"explanation"`
	Indicators      []string `json:"indicators,omitempty"`
	Recommendations string   `json:"recommendations"`
}

// SandboxResult captures what the sandbox probe observed.
type SandboxResult struct {
	Success      bool       `json:"success"`
	ActionsTaken []string   `json:"actions_taken"`
	Observations []string   `json:"observations"`
	Redirects    []Redirect `json:"redirects"`
	URLsFound    []string   `json:"urls_found,omitempty"`
	Errors       []string   `json:"errors"`
}

// Redirect is one hop in a probed redirect chain.
type Redirect struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// TimelineEvent is one lifecycle event on a threat's timeline.
type TimelineEvent struct {
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TrafficEvent is a classified traffic observation as returned by the API.
type TrafficEvent struct {
	ID             string   `json:"id"`
	SourceIP       string   `json:"source_ip"`
	Payload        string   `json:"payload"`
	PayloadType    string   `json:"payload_type"`
	MLPrediction   string   `json:"ml_prediction,omitempty"`
	MLConfidence   float64  `json:"ml_confidence,omitempty"`
	Status         string   `json:"status"`
	Classification string   `json:"classification"`
	Severity       string   `json:"severity,omitempty"`
	RiskScore      *float64 `json:"risk_score,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
}

// ThreatStats is returned by GET /api/threats/stats.
type ThreatStats struct {
	Total           int            `json:"total"`
	BySeverity      map[string]int `json:"by_severity"`
	ByKind          map[string]int `json:"by_kind"`
	SandboxExecuted int            `json:"sandbox_executed"`
}

// TrafficStats is returned by GET /api/traffic/stats.
type TrafficStats struct {
	Total     int `json:"total"`
	Normal    int `json:"normal"`
	Malicious int `json:"malicious"`
	Unknown   int `json:"unknown"`
}

// RateLimitStatus is returned by GET /api/ratelimit/{caller}.
type RateLimitStatus struct {
	Caller    string `json:"caller"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	WindowS   int    `json:"window_s"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// APIError is returned when the API rejects a request. The Field is set for
// validation failures.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("phishlense: %s (HTTP %d, field=%s)", e.Message, e.StatusCode, e.Field)
	}
	return fmt.Sprintf("phishlense: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to a phishlense server.
type Client struct {
	baseURL    string
	callerID   string
	httpClient *http.Client
}

// NewClient creates a client for the phishlense API. callerID identifies
// the submitter for rate limiting; pass "" to share the per-host quota.
func NewClient(baseURL, callerID string) *Client {
	return &Client{
		baseURL:    baseURL,
		callerID:   callerID,
		httpClient: &http.Client{Timeout: 3 * time.Minute}, // sandbox probes run inline
	}
}

// SubmitThreat submits content for analysis and waits for the verdict.
// When the analysis collaborator fails, the server still stores the threat
// and returns it in "error" status; check Threat.Status before trusting
// the verdict.
func (c *Client) SubmitThreat(ctx context.Context, req SubmitRequest) (*Threat, error) {
	var t Threat
	if err := c.do(ctx, http.MethodPost, "/api/threats", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThreat fetches a threat with its full timeline.
func (c *Client) GetThreat(ctx context.Context, id string) (*Threat, error) {
	var t Threat
	if err := c.do(ctx, http.MethodGet, "/api/threats/"+id, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ExecuteSandbox runs the sandbox probe for a threat that has not been
// executed yet. A second call returns an APIError with HTTP 409.
func (c *Client) ExecuteSandbox(ctx context.Context, id string) (*SandboxResult, error) {
	var res SandboxResult
	if err := c.do(ctx, http.MethodPost, "/api/threats/"+id+"/execute", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reanalyze re-runs the analysis, replacing the previous verdict.
func (c *Client) Reanalyze(ctx context.Context, id string) (*Threat, error) {
	var t Threat
	if err := c.do(ctx, http.MethodPost, "/api/threats/"+id+"/reanalyze", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ThreatStats fetches aggregate threat counts.
func (c *Client) ThreatStats(ctx context.Context) (*ThreatStats, error) {
	var stats ThreatStats
	if err := c.do(ctx, http.MethodGet, "/api/threats/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ReceiveTraffic submits a traffic observation for classification.
func (c *Client) ReceiveTraffic(ctx context.Context, req TrafficRequest) (*TrafficEvent, error) {
	var ev TrafficEvent
	if err := c.do(ctx, http.MethodPost, "/api/traffic/receive", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// TrafficStats fetches aggregate traffic counts.
func (c *Client) TrafficStats(ctx context.Context) (*TrafficStats, error) {
	var stats TrafficStats
	if err := c.do(ctx, http.MethodGet, "/api/traffic/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RateLimitStatus reports the remaining quota for the client's caller id.
func (c *Client) RateLimitStatus(ctx context.Context) (*RateLimitStatus, error) {
	caller := c.callerID
	if caller == "" {
		caller = "anonymous"
	}
	var status RateLimitStatus
	if err := c.do(ctx, http.MethodGet, "/api/ratelimit/"+caller, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one API request and decodes the response into out. Non-2xx
// responses become an *APIError carrying the server's message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.callerID != "" {
		httpReq.Header.Set("X-Caller-ID", c.callerID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&apiErr); err != nil {
			return &APIError{StatusCode: httpResp.StatusCode, Message: httpResp.Status}
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: apiErr.Error, Field: apiErr.Field}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", httpResp.StatusCode, err)
	}
	return nil
}
