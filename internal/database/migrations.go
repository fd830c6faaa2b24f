package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_runs",
		Up: `
-- One row per invocation of the backup plan
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    destination TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    hosts INTEGER NOT NULL DEFAULT 0,
    hosts_failed INTEGER NOT NULL DEFAULT 0,
    jobs INTEGER NOT NULL DEFAULT 0,
    jobs_succeeded INTEGER NOT NULL DEFAULT 0,
    jobs_failed INTEGER NOT NULL DEFAULT 0,
    cleanup_warnings INTEGER NOT NULL DEFAULT 0,
    collisions INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    exit_code INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`,
		Down: `
DROP TABLE IF EXISTS runs;
`,
	},
	{
		Version: "002_run_jobs",
		Up: `
-- Per-job outcomes; unreachable hosts get a single row with empty parent and child
CREATE TABLE IF NOT EXISTS run_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    host TEXT NOT NULL,
    hostname TEXT NOT NULL DEFAULT '',
    parent TEXT NOT NULL DEFAULT '',
    child TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT '',
    exit_status INTEGER NOT NULL DEFAULT 0,
    artifact TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    overwrote BOOLEAN NOT NULL DEFAULT false,
    error TEXT NOT NULL DEFAULT '',
    cleanup_error TEXT NOT NULL DEFAULT '',
    warnings TEXT NOT NULL DEFAULT '[]',
    started_at TEXT NOT NULL DEFAULT '',
    finished_at TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_jobs_run_id ON run_jobs(run_id);
CREATE INDEX IF NOT EXISTS idx_run_jobs_host ON run_jobs(host);
`,
		Down: `
DROP TABLE IF EXISTS run_jobs;
`,
	},
}
