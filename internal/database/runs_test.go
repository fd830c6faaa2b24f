package database

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/backup"
)

func sampleRun(id string, start time.Time) *backup.RunReport {
	return &backup.RunReport{
		ID:          id,
		Destination: "/srv/backups",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Minute),
		Hosts: []backup.HostReport{
			{
				Name:      "db1",
				Hostname:  "10.0.0.5",
				StartedAt: start,
				Jobs: []backup.JobResult{
					{
						Parent:     "/var/lib",
						Child:      "postgres",
						State:      backup.StateDone,
						Artifact:   &backup.Artifact{Name: "db1_postgres_2024-03-01_02-03-04.tar.xz", SizeBytes: 4096, Overwrote: true},
						Warnings:   []string{"mirror s3: timeout"},
						StartedAt:  start,
						FinishedAt: start.Add(10 * time.Second),
					},
					{
						Parent:     "/var/lib",
						Child:      "redis",
						State:      backup.StateDone,
						ExitStatus: 2,
						Err:        errors.New("archive failed"),
						CleanupErr: errors.New("rm exited 1"),
					},
				},
			},
			{Name: "web1", Hostname: "10.0.0.6", ConnectErr: errors.New("connection refused")},
		},
	}
}

func TestRecordRunAndListJobs(t *testing.T) {
	store := NewRunStore(newTestDB(t))
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 2, 3, 4, 500, time.UTC)

	if err := store.RecordRun(ctx, sampleRun("run-1", start), backup.ExitJobFailures); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if !run.StartedAt.Equal(start) || run.ExitCode != backup.ExitJobFailures {
		t.Fatalf("unexpected run %+v", run)
	}
	wantSummary := backup.Summary{
		Hosts:           2,
		HostsFailed:     2,
		Jobs:            2,
		JobsSucceeded:   1,
		JobsFailed:      1,
		CleanupWarnings: 1,
		Collisions:      1,
		Bytes:           4096,
	}
	if run.Summary != wantSummary {
		t.Fatalf("expected summary %+v, got %+v", wantSummary, run.Summary)
	}

	jobs, err := store.ListJobs(ctx, "run-1")
	if err != nil {
		t.Fatalf("list jobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(jobs))
	}

	ok := jobs[0]
	if ok.Status != JobStatusSucceeded || ok.Artifact == "" || !ok.Overwrote || ok.SizeBytes != 4096 {
		t.Fatalf("unexpected success row %+v", ok)
	}
	if !reflect.DeepEqual(ok.Warnings, []string{"mirror s3: timeout"}) {
		t.Fatalf("unexpected warnings %v", ok.Warnings)
	}

	failed := jobs[1]
	if failed.Status != JobStatusFailed || failed.ExitStatus != 2 || failed.Error != "archive failed" || failed.CleanupError != "rm exited 1" {
		t.Fatalf("unexpected failure row %+v", failed)
	}
	if len(failed.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", failed.Warnings)
	}

	unreachable := jobs[2]
	if unreachable.Status != JobStatusUnreachable || unreachable.Host != "web1" || unreachable.Child != "" {
		t.Fatalf("unexpected unreachable row %+v", unreachable)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := NewRunStore(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		if err := store.RecordRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour)), backup.ExitOK); err != nil {
			t.Fatalf("record %s failed: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "third" || runs[1].ID != "second" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestRecordRunRejectsDuplicateID(t *testing.T) {
	store := NewRunStore(newTestDB(t))
	ctx := context.Background()
	start := time.Now()

	if err := store.RecordRun(ctx, sampleRun("dup", start), backup.ExitOK); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordRun(ctx, sampleRun("dup", start), backup.ExitOK); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}

	jobs, err := store.ListJobs(ctx, "dup")
	if err != nil || len(jobs) != 3 {
		t.Fatalf("failed insert must not add rows, got %d (%v)", len(jobs), err)
	}
}

func TestGetRunMissing(t *testing.T) {
	store := NewRunStore(newTestDB(t))
	if _, err := store.GetRun(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
