package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/backup"
)

// Job statuses stored in run_jobs.
const (
	JobStatusSucceeded   = "succeeded"
	JobStatusFailed      = "failed"
	JobStatusUnreachable = "unreachable"
)

// Fixed width so that lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is one stored run with its summary counters.
type RunRecord struct {
	ID          string         `json:"id"`
	Destination string         `json:"destination"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Summary     backup.Summary `json:"summary"`
	ExitCode    int            `json:"exit_code"`
}

// JobRecord is one stored job outcome, or a host that could not be reached.
type JobRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Host         string    `json:"host"`
	Hostname     string    `json:"hostname"`
	Parent       string    `json:"parent"`
	Child        string    `json:"child"`
	Status       string    `json:"status"`
	State        string    `json:"state"`
	ExitStatus   int       `json:"exit_status"`
	Artifact     string    `json:"artifact"`
	SizeBytes    int64     `json:"size_bytes"`
	Overwrote    bool      `json:"overwrote"`
	Error        string    `json:"error"`
	CleanupError string    `json:"cleanup_error"`
	Warnings     []string  `json:"warnings"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunStore persists run history.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// RecordRun stores a finished run and every job in it in one transaction.
func (s *RunStore) RecordRun(ctx context.Context, report *backup.RunReport, exitCode int) error {
	if report == nil {
		return fmt.Errorf("run report is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	summary := report.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, destination, started_at, finished_at, hosts, hosts_failed, jobs,
		                  jobs_succeeded, jobs_failed, cleanup_warnings, collisions, bytes, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Destination,
		formatTime(report.StartedAt),
		formatTime(report.FinishedAt),
		summary.Hosts,
		summary.HostsFailed,
		summary.Jobs,
		summary.JobsSucceeded,
		summary.JobsFailed,
		summary.CleanupWarnings,
		summary.Collisions,
		summary.Bytes,
		exitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.ID, err)
	}

	insertJob, err := tx.PrepareContext(ctx, `
		INSERT INTO run_jobs (run_id, host, hostname, parent, child, status, state, exit_status,
		                      artifact, size_bytes, overwrote, error, cleanup_error, warnings,
		                      started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare job insert: %w", err)
	}
	defer insertJob.Close()

	for _, host := range report.Hosts {
		if host.ConnectErr != nil {
			if _, err := insertJob.ExecContext(ctx,
				report.ID, host.Name, host.Hostname, "", "", JobStatusUnreachable, "", 0,
				"", 0, false, host.ConnectErr.Error(), "", "[]",
				formatTime(host.StartedAt), formatTime(host.FinishedAt),
			); err != nil {
				return fmt.Errorf("failed to insert host %s: %w", host.Name, err)
			}
			continue
		}

		for _, job := range host.Jobs {
			record := jobRecordFromResult(host, job)
			warnings, err := json.Marshal(record.Warnings)
			if err != nil {
				return fmt.Errorf("failed to encode warnings: %w", err)
			}
			if _, err := insertJob.ExecContext(ctx,
				report.ID,
				record.Host,
				record.Hostname,
				record.Parent,
				record.Child,
				record.Status,
				record.State,
				record.ExitStatus,
				record.Artifact,
				record.SizeBytes,
				record.Overwrote,
				record.Error,
				record.CleanupError,
				string(warnings),
				formatTime(record.StartedAt),
				formatTime(record.FinishedAt),
			); err != nil {
				return fmt.Errorf("failed to insert job %s %s/%s: %w", host.Name, job.Parent, job.Child, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.ID, err)
	}
	return nil
}

func jobRecordFromResult(host backup.HostReport, job backup.JobResult) JobRecord {
	record := JobRecord{
		Host:       host.Name,
		Hostname:   host.Hostname,
		Parent:     job.Parent,
		Child:      job.Child,
		Status:     JobStatusFailed,
		State:      string(job.State),
		ExitStatus: job.ExitStatus,
		Warnings:   job.Warnings,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if record.Warnings == nil {
		record.Warnings = []string{}
	}
	if job.Succeeded() {
		record.Status = JobStatusSucceeded
	}
	if job.Artifact != nil {
		record.Artifact = job.Artifact.Name
		record.SizeBytes = job.Artifact.SizeBytes
		record.Overwrote = job.Artifact.Overwrote
	}
	if job.Err != nil {
		record.Error = job.Err.Error()
	}
	if job.CleanupErr != nil {
		record.CleanupError = job.CleanupErr.Error()
	}
	return record
}

const runColumns = `id, destination, started_at, finished_at, hosts, hosts_failed, jobs, jobs_succeeded,
		       jobs_failed, cleanup_warnings, collisions, bytes, exit_code`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run        RunRecord
		startedAt  string
		finishedAt string
	)
	if err := row.Scan(
		&run.ID,
		&run.Destination,
		&startedAt,
		&finishedAt,
		&run.Summary.Hosts,
		&run.Summary.HostsFailed,
		&run.Summary.Jobs,
		&run.Summary.JobsSucceeded,
		&run.Summary.JobsFailed,
		&run.Summary.CleanupWarnings,
		&run.Summary.Collisions,
		&run.Summary.Bytes,
		&run.ExitCode,
	); err != nil {
		return RunRecord{}, err
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return RunRecord{}, err
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by ID. A missing run yields sql.ErrNoRows.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListJobs returns the job rows of a run in the order they were recorded.
func (s *RunStore) ListJobs(ctx context.Context, runID string) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, host, hostname, parent, child, status, state, exit_status, artifact,
		       size_bytes, overwrote, error, cleanup_error, warnings, started_at, finished_at
		FROM run_jobs
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs for run %s: %w", runID, err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var (
			job          JobRecord
			warningsJSON string
			startedAt    string
			finishedAt   string
		)
		if err := rows.Scan(
			&job.ID,
			&job.RunID,
			&job.Host,
			&job.Hostname,
			&job.Parent,
			&job.Child,
			&job.Status,
			&job.State,
			&job.ExitStatus,
			&job.Artifact,
			&job.SizeBytes,
			&job.Overwrote,
			&job.Error,
			&job.CleanupError,
			&warningsJSON,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(warningsJSON), &job.Warnings); err != nil {
			return nil, fmt.Errorf("failed to parse warnings: %w", err)
		}
		if job.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if job.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}
