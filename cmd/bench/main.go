package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/phishlense/phishlense/internal/config"
	"github.com/phishlense/phishlense/internal/store"
)

// Fills a throwaway sqlite store with analyzed artifacts, timelines, and
// traffic events at increasing scales and times the hot read paths.
func main() {
	dir, _ := os.MkdirTemp("", "phishlense-bench-*")
	defer func() { _ = os.RemoveAll(dir) }()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "bench.db")}, logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	statuses := []string{"completed", "completed", "completed", "completed", "error"}
	severities := []string{"low", "medium", "high", "critical"}
	kinds := []string{"url", "email", "text", "link"}
	analysis := `{"risk_score":72,"severity":"high","explanation":"login page impersonating a bank","recommendations":"Block the domain."}`

	scales := []int{1000, 10000, 50000, 100000}

	fmt.Println("=== SCALING BENCHMARK (artifact + traffic read paths) ===")
	fmt.Println()

	written := 0
	for _, target := range scales {
		toWrite := target - written
		if toWrite <= 0 {
			continue
		}

		start := time.Now()
		batchSize := 500
		for i := 0; i < toWrite; i += batchSize {
			end := i + batchSize
			if end > toWrite {
				end = toWrite
			}
			tx, _ := st.DB().Begin()
			for j := i; j < end; j++ {
				idx := written + j
				// 5K rows within 24h, rest older (steady-state with retention)
				var ts time.Time
				if idx < 5000 {
					ts = time.Now().Add(-time.Duration(idx) * time.Second)
				} else {
					ts = time.Now().Add(-48*time.Hour - time.Duration(idx)*time.Second)
				}
				tsStr := ts.UTC().Format(time.RFC3339Nano)
				id := fmt.Sprintf("t-%07d", idx)
				score := float64(idx % 101)

				_, _ = tx.Exec(
					`INSERT INTO artifacts (id, kind, content, source, status, severity, risk_score,
						analysis, sandbox_executed, sandbox_result, created_at, updated_at, analyzed_at)
					VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
					id, kinds[idx%len(kinds)],
					fmt.Sprintf("http://phish-%d.example/login", idx), "bench",
					statuses[idx%len(statuses)], severities[idx%len(severities)], score,
					analysis, idx%3, "", tsStr, tsStr, tsStr,
				)
				_, _ = tx.Exec(
					`INSERT INTO timeline (artifact_id, event_type, description, timestamp, metadata)
					VALUES (?,?,?,?,?)`,
					id, "threat_received", "Threat artifact received", tsStr, "",
				)
				_, _ = tx.Exec(
					`INSERT INTO timeline (artifact_id, event_type, description, timestamp, metadata)
					VALUES (?,?,?,?,?)`,
					id, "analysis_completed", "Analysis completed", tsStr, "",
				)
				if idx%10 == 0 {
					_, _ = tx.Exec(
						`INSERT INTO traffic_events (id, source_ip, destination_ip, port, payload, payload_type,
							organization, ml_prediction, ml_confidence, status, classification, severity,
							risk_score, explanation, recommendations, created_at, updated_at)
						VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
						fmt.Sprintf("ev-%07d", idx), fmt.Sprintf("203.0.113.%d", idx%250), "", 443,
						"verify your account", "phishing_email", "", "malicious", 0.9,
						"completed", "malicious", "high", score, "", "", tsStr, tsStr,
					)
				}
			}
			_ = tx.Commit()
		}
		written = target
		fillTime := time.Since(start)
		insertRate := float64(toWrite) / fillTime.Seconds()

		// Update query planner statistics after bulk insert
		_, _ = st.DB().Exec("ANALYZE")

		type benchmark struct {
			name string
			fn   func()
		}
		hotID := fmt.Sprintf("t-%07d", written/2)
		benchmarks := []benchmark{
			{"Get artifact + timeline", func() { _, _ = st.GetArtifact(ctx, hotID) }},
			{"Artifact stats", func() { _, _ = st.ArtifactStats(ctx) }},
			{"Traffic stats", func() { _, _ = st.TrafficStats(ctx) }},
		}

		fi, _ := os.Stat(filepath.Join(dir, "bench.db"))
		wal, _ := os.Stat(filepath.Join(dir, "bench.db-wal"))
		dbMB := float64(fi.Size()) / (1024 * 1024)
		walMB := float64(0)
		if wal != nil {
			walMB = float64(wal.Size()) / (1024 * 1024)
		}

		fmt.Printf("--- %dk artifacts (5k in 24h) | %.0f MB | %.0f ins/sec ---\n",
			written/1000, dbMB+walMB, insertRate)

		iters := 20
		if written >= 100000 {
			iters = 5
		}
		for _, b := range benchmarks {
			start := time.Now()
			for range iters {
				b.fn()
			}
			elapsed := time.Since(start)
			avgMs := float64(elapsed.Microseconds()) / float64(iters) / 1000.0
			fmt.Printf("  %-24s %7.1f ms\n", b.name, avgMs)
		}
		fmt.Println()
	}
}
