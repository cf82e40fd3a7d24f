// Package store persists artifacts, their timelines, and traffic events.
//
// Two backends share one implementation over database/sql: SQLite
// (modernc.org/sqlite, the default) and Postgres (pgx through its stdlib
// driver). Timestamps are stored as RFC3339 text; result snapshots are
// stored as JSON text columns and replaced wholesale on re-runs. Timeline
// rows are append-only and ordered by a monotonically increasing sequence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/safefile"
	"github.com/phishlense/phishlense/internal/threat"
)

// Store manages the artifact database.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger
}

// Open connects to the configured backend and ensures the schema exists.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return openSQLite(cfg.Path, logger)
	case "postgres":
		return openPostgres(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openSQLite(path string, logger *slog.Logger) (*Store, error) {
	// A symlinked database file can redirect writes outside the data dir.
	if err := safefile.RejectSymlink(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.init(sqliteSchema); err != nil {
		return nil, err
	}
	return s, nil
}

func openPostgres(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}

	s := &Store{db: db, postgres: true, logger: logger}
	if err := s.init(postgresSchema); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init(schema string) error {
	if _, err := s.db.Exec(schema); err != nil {
		if cerr := s.db.Close(); cerr != nil {
			return fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance and benchmark tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind converts ?-style placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateArtifact inserts a new artifact row.
func (s *Store) CreateArtifact(ctx context.Context, a *threat.Artifact) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO artifacts (id, kind, content, source, status, severity, risk_score,
			analysis, sandbox_executed, sandbox_result, created_at, updated_at, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, string(a.Kind), a.Content, a.Source, string(a.Status), string(a.Severity),
		nullFloat(a.RiskScore), marshalJSON(a.Analysis), boolInt(a.SandboxExecuted),
		marshalJSON(a.SandboxResult), formatTime(now), formatTime(now), nullTime(a.AnalyzedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	return nil
}

// UpdateArtifact replaces the artifact's mutable columns. Result snapshots
// are overwritten wholesale, never merged.
func (s *Store) UpdateArtifact(ctx context.Context, a *threat.Artifact) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE artifacts SET status = ?, severity = ?, risk_score = ?, analysis = ?,
			sandbox_executed = ?, sandbox_result = ?, updated_at = ?, analyzed_at = ?
		WHERE id = ?`),
		string(a.Status), string(a.Severity), nullFloat(a.RiskScore), marshalJSON(a.Analysis),
		boolInt(a.SandboxExecuted), marshalJSON(a.SandboxResult), formatTime(a.UpdatedAt),
		nullTime(a.AnalyzedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating artifact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// GetArtifact loads an artifact with its full timeline.
func (s *Store) GetArtifact(ctx context.Context, id string) (*threat.Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, kind, content, source, status, severity, risk_score, analysis,
			sandbox_executed, sandbox_result, created_at, updated_at, analyzed_at
		FROM artifacts WHERE id = ?`), id)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, threat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact: %w", err)
	}

	timeline, err := s.timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Timeline = timeline
	return a, nil
}

// AppendEvent appends a timeline event for the artifact. Events are
// insertion-ordered and never updated.
func (s *Store) AppendEvent(ctx context.Context, artifactID string, ev threat.TimelineEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO timeline (artifact_id, event_type, description, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?)`),
		artifactID, ev.EventType, ev.Description, formatTime(ev.Timestamp), marshalJSON(ev.Metadata),
	)
	if err != nil {
		return fmt.Errorf("appending timeline event: %w", err)
	}
	return nil
}

func (s *Store) timeline(ctx context.Context, artifactID string) ([]threat.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT event_type, description, timestamp, metadata
		FROM timeline WHERE artifact_id = ? ORDER BY seq ASC`), artifactID)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []threat.TimelineEvent
	for rows.Next() {
		var ev threat.TimelineEvent
		var ts string
		var meta sql.NullString
		if err := rows.Scan(&ev.EventType, &ev.Description, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scanning timeline row: %w", err)
		}
		ev.Timestamp = parseTime(ts)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ArtifactStats aggregates counts for the stats endpoint.
func (s *Store) ArtifactStats(ctx context.Context) (*threat.ArtifactStats, error) {
	stats := &threat.ArtifactStats{
		BySeverity: make(map[threat.Severity]int),
		ByKind:     make(map[threat.Kind]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, severity, sandbox_executed, COUNT(*) FROM artifacts GROUP BY kind, severity, sandbox_executed`)
	if err != nil {
		return nil, fmt.Errorf("querying artifact stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind, severity string
		var executed, count int
		if err := rows.Scan(&kind, &severity, &executed, &count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		stats.ByKind[threat.Kind(kind)] += count
		if severity != "" {
			stats.BySeverity[threat.Severity(severity)] += count
		}
		if executed != 0 {
			stats.SandboxExecuted += count
		}
	}
	return stats, rows.Err()
}

// CreateTrafficEvent inserts a new traffic event row.
func (s *Store) CreateTrafficEvent(ctx context.Context, ev *threat.TrafficEvent) error {
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO traffic_events (id, source_ip, destination_ip, port, payload, payload_type,
			organization, ml_prediction, ml_confidence, status, classification, severity,
			risk_score, explanation, recommendations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.SourceIP, ev.DestinationIP, ev.Port, ev.Payload, ev.PayloadType,
		ev.Organization, ev.MLPrediction, ev.MLConfidence, string(ev.Status),
		string(ev.Classification), string(ev.Severity), nullFloat(ev.RiskScore),
		ev.Explanation, ev.Recommendations, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting traffic event: %w", err)
	}
	return nil
}

// UpdateTrafficEvent replaces the event's analysis columns.
func (s *Store) UpdateTrafficEvent(ctx context.Context, ev *threat.TrafficEvent) error {
	ev.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE traffic_events SET ml_prediction = ?, ml_confidence = ?, status = ?,
			classification = ?, severity = ?, risk_score = ?, explanation = ?,
			recommendations = ?, updated_at = ?
		WHERE id = ?`),
		ev.MLPrediction, ev.MLConfidence, string(ev.Status), string(ev.Classification),
		string(ev.Severity), nullFloat(ev.RiskScore), ev.Explanation, ev.Recommendations,
		formatTime(ev.UpdatedAt), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating traffic event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// GetTrafficEvent loads one traffic event by id.
func (s *Store) GetTrafficEvent(ctx context.Context, id string) (*threat.TrafficEvent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, source_ip, destination_ip, port, payload, payload_type, organization,
			ml_prediction, ml_confidence, status, classification, severity, risk_score,
			explanation, recommendations, created_at, updated_at
		FROM traffic_events WHERE id = ?`), id)

	ev, err := scanTrafficEvent(row)
	if err == sql.ErrNoRows {
		return nil, threat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading traffic event: %w", err)
	}
	return ev, nil
}

// TrafficStats aggregates event counts by classification.
func (s *Store) TrafficStats(ctx context.Context) (*threat.TrafficStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT classification, COUNT(*) FROM traffic_events GROUP BY classification`)
	if err != nil {
		return nil, fmt.Errorf("querying traffic stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &threat.TrafficStats{}
	for rows.Next() {
		var class string
		var count int
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		switch threat.Classification(class) {
		case threat.ClassNormal:
			stats.Normal += count
		case threat.ClassMalicious:
			stats.Malicious += count
		default:
			stats.Unknown += count
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*threat.Artifact, error) {
	var a threat.Artifact
	var kind, status string
	var severity, analysis, sandboxResult sql.NullString
	var riskScore sql.NullFloat64
	var executed int
	var createdAt, updatedAt string
	var analyzedAt sql.NullString

	err := row.Scan(&a.ID, &kind, &a.Content, &a.Source, &status, &severity, &riskScore,
		&analysis, &executed, &sandboxResult, &createdAt, &updatedAt, &analyzedAt)
	if err != nil {
		return nil, err
	}

	a.Kind = threat.Kind(kind)
	a.Status = threat.Status(status)
	a.Severity = threat.Severity(severity.String)
	if riskScore.Valid {
		a.RiskScore = &riskScore.Float64
	}
	if analysis.Valid && analysis.String != "" {
		a.Analysis = &threat.AnalysisResult{}
		_ = json.Unmarshal([]byte(analysis.String), a.Analysis)
	}
	a.SandboxExecuted = executed != 0
	if sandboxResult.Valid && sandboxResult.String != "" {
		a.SandboxResult = &threat.SandboxResult{}
		_ = json.Unmarshal([]byte(sandboxResult.String), a.SandboxResult)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	if analyzedAt.Valid && analyzedAt.String != "" {
		t := parseTime(analyzedAt.String)
		a.AnalyzedAt = &t
	}
	return &a, nil
}

func scanTrafficEvent(row rowScanner) (*threat.TrafficEvent, error) {
	var ev threat.TrafficEvent
	var status, class string
	var severity, destIP, org, prediction, explanation, recs sql.NullString
	var confidence sql.NullFloat64
	var riskScore sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(&ev.ID, &ev.SourceIP, &destIP, &ev.Port, &ev.Payload, &ev.PayloadType,
		&org, &prediction, &confidence, &status, &class, &severity, &riskScore,
		&explanation, &recs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	ev.DestinationIP = destIP.String
	ev.Organization = org.String
	ev.MLPrediction = prediction.String
	ev.MLConfidence = confidence.Float64
	ev.Status = threat.Status(status)
	ev.Classification = threat.Classification(class)
	ev.Severity = threat.Severity(severity.String)
	if riskScore.Valid {
		ev.RiskScore = &riskScore.Float64
	}
	ev.Explanation = explanation.String
	ev.Recommendations = recs.String
	ev.CreatedAt = parseTime(createdAt)
	ev.UpdatedAt = parseTime(updatedAt)
	return &ev, nil
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case *threat.AnalysisResult:
		if t == nil {
			return ""
		}
	case *threat.SandboxResult:
		if t == nil {
			return ""
		}
	case map[string]string:
		if len(t) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
