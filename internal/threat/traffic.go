package threat

import "time"

// Classification is the final verdict on a traffic event.
type Classification string

const (
	ClassNormal    Classification = "normal"
	ClassMalicious Classification = "malicious"
	ClassUnknown   Classification = "unknown"
)

// TrafficEvent is an ingested network/traffic observation carrying the
// fields the ML classifier consumes plus the analysis outcome.
type TrafficEvent struct {
	ID            string `json:"id"`
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	Payload       string `json:"payload"`
	PayloadType   string `json:"payload_type"`
	Organization  string `json:"organization,omitempty"`

	MLPrediction string  `json:"ml_prediction,omitempty"`
	MLConfidence float64 `json:"ml_confidence,omitempty"`

	Status          Status         `json:"status"`
	Classification  Classification `json:"classification"`
	Severity        Severity       `json:"severity,omitempty"`
	RiskScore       *float64       `json:"risk_score,omitempty"`
	Explanation     string         `json:"explanation,omitempty"`
	Recommendations string         `json:"recommendations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactStats aggregates artifact counts for the stats endpoint.
type ArtifactStats struct {
	Total           int              `json:"total"`
	BySeverity      map[Severity]int `json:"by_severity"`
	ByKind          map[Kind]int     `json:"by_kind"`
	SandboxExecuted int              `json:"sandbox_executed"`
}

// TrafficStats aggregates traffic event counts by classification.
type TrafficStats struct {
	Total     int `json:"total"`
	Normal    int `json:"normal"`
	Malicious int `json:"malicious"`
	Unknown   int `json:"unknown"`
}
