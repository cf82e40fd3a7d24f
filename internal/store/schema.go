package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	source TEXT,
	status TEXT NOT NULL,
	severity TEXT,
	risk_score REAL,
	analysis TEXT,
	sandbox_executed INTEGER NOT NULL DEFAULT 0,
	sandbox_result TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	analyzed_at TEXT
);

CREATE TABLE IF NOT EXISTS timeline (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	artifact_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS traffic_events (
	id TEXT PRIMARY KEY,
	source_ip TEXT NOT NULL,
	destination_ip TEXT,
	port INTEGER,
	payload TEXT NOT NULL,
	payload_type TEXT NOT NULL,
	organization TEXT,
	ml_prediction TEXT,
	ml_confidence REAL,
	status TEXT NOT NULL,
	classification TEXT NOT NULL,
	severity TEXT,
	risk_score REAL,
	explanation TEXT,
	recommendations TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
CREATE INDEX IF NOT EXISTS idx_timeline_artifact ON timeline(artifact_id);
CREATE INDEX IF NOT EXISTS idx_traffic_class ON traffic_events(classification);
CREATE INDEX IF NOT EXISTS idx_traffic_source ON traffic_events(source_ip);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	source TEXT,
	status TEXT NOT NULL,
	severity TEXT,
	risk_score DOUBLE PRECISION,
	analysis TEXT,
	sandbox_executed INTEGER NOT NULL DEFAULT 0,
	sandbox_result TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	analyzed_at TEXT
);

CREATE TABLE IF NOT EXISTS timeline (
	seq BIGSERIAL PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS traffic_events (
	id TEXT PRIMARY KEY,
	source_ip TEXT NOT NULL,
	destination_ip TEXT,
	port INTEGER,
	payload TEXT NOT NULL,
	payload_type TEXT NOT NULL,
	organization TEXT,
	ml_prediction TEXT,
	ml_confidence DOUBLE PRECISION,
	status TEXT NOT NULL,
	classification TEXT NOT NULL,
	severity TEXT,
	risk_score DOUBLE PRECISION,
	explanation TEXT,
	recommendations TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
CREATE INDEX IF NOT EXISTS idx_timeline_artifact ON timeline(artifact_id);
CREATE INDEX IF NOT EXISTS idx_traffic_class ON traffic_events(classification);
CREATE INDEX IF NOT EXISTS idx_traffic_source ON traffic_events(source_ip);
`
