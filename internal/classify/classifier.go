// Package classify defines the ML traffic classifier collaborator. The
// feature-extraction pipeline itself lives in an external service; this
// package carries its contract, an HTTP client for it, and the payload-type
// heuristic used when the service is unavailable.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/threat"
)

// Sample is one traffic observation presented for classification.
type Sample struct {
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	Payload       string    `json:"payload"`
	PayloadType   string    `json:"payload_type"`
	Port          int       `json:"port"`
	Timestamp     time.Time `json:"timestamp"`
}

// Prediction is the classifier verdict.
type Prediction struct {
	Prediction threat.Classification `json:"prediction"` // normal, malicious, unknown
	Confidence float64               `json:"confidence"` // [0,1]
}

// Classifier is the collaborator contract.
type Classifier interface {
	Predict(ctx context.Context, s Sample) (Prediction, error)
}

// HTTPClassifier calls a remote model-serving endpoint.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier creates a classifier client, or nil when disabled.
func NewHTTPClassifier(cfg config.ClassifierConfig) *HTTPClassifier {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClassifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Predict posts the sample and decodes the verdict. Failures are wrapped as
// ExternalServiceError; callers fall back to the payload-type heuristic.
func (c *HTTPClassifier) Predict(ctx context.Context, s Sample) (Prediction, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Prediction{}, &threat.ExternalServiceError{Service: "classifier", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, &threat.ExternalServiceError{Service: "classifier", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Prediction{}, &threat.ExternalServiceError{Service: "classifier", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Prediction{}, &threat.ExternalServiceError{Service: "classifier",
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var pred Prediction
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&pred); err != nil {
		return Prediction{}, &threat.ExternalServiceError{Service: "classifier", Err: err}
	}
	switch pred.Prediction {
	case threat.ClassNormal, threat.ClassMalicious, threat.ClassUnknown:
	default:
		pred.Prediction = threat.ClassUnknown
	}
	return pred, nil
}

// phishingPayloadTypes is the payload-type fallback: when the classifier is
// unavailable, a payload type on this list is treated as malicious.
var phishingPayloadTypes = map[string]bool{
	"phishing": true, "phishing_email": true, "suspicious_email": true, "malicious_email": true,
	"phishing_link": true, "suspicious_link": true, "malicious_url": true, "phishing_url": true,
	"phishing_text": true, "suspicious_text": true, "social_engineering": true,
	"phishing_image": true, "suspicious_image": true, "qr_code_phishing": true,
	"phishing_audio": true, "suspicious_audio": true, "voice_phishing": true, "vishing": true,
	"phishing_video": true, "suspicious_video": true,
	"credential_harvesting": true, "fake_login": true, "spoofed_site": true,
	"email_spoofing": true, "brand_impersonation": true, "urgent_action_required": true,
}

// IsPhishingPayloadType reports whether the payload type alone marks the
// traffic as phishing-related.
func IsPhishingPayloadType(payloadType string) bool {
	return phishingPayloadTypes[strings.ToLower(payloadType)]
}

// SeverityForPayloadType maps a phishing payload type onto a severity band.
func SeverityForPayloadType(payloadType string) threat.Severity {
	switch strings.ToLower(payloadType) {
	case "credential_harvesting", "fake_login", "email_spoofing":
		return threat.SeverityCritical
	case "phishing_email", "phishing_link", "phishing_url", "brand_impersonation":
		return threat.SeverityHigh
	default:
		return threat.SeverityMedium
	}
}
