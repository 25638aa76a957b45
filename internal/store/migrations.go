package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS external_calls (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	url         TEXT NOT NULL,
	method      TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_external_calls_request_id ON external_calls(request_id);
CREATE INDEX IF NOT EXISTS idx_external_calls_started_at ON external_calls(started_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
