package backup

import (
	"context"
	"os"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures an Orchestrator.
type Options struct {
	Destination   string
	ScratchDir    string
	Compression   CompressionConfig
	ExecTimeout   time.Duration
	FetchTimeout  time.Duration
	ParallelHosts int
	Verify        bool
	RetentionKeep int
	Mirrors       []Destination

	// Now and TempPath default to the wall clock and random scratch names.
	Now      func() time.Time
	TempPath TempPathFunc
}

// OptionsFromConfig maps the backup section of the configuration.
func OptionsFromConfig(cfg config.BackupConfig, destination string) Options {
	return Options{
		Destination:   destination,
		ScratchDir:    cfg.ScratchDir,
		Compression:   cfg.Compression,
		ExecTimeout:   cfg.ExecTimeoutDuration(),
		FetchTimeout:  cfg.FetchTimeoutDuration(),
		ParallelHosts: cfg.ParallelHosts,
		Verify:        cfg.Verify,
		RetentionKeep: cfg.Retention.Keep,
	}
}

// Orchestrator runs the backup plan across every declared host. Each host
// gets its own Transport; a failing host never affects another.
type Orchestrator struct {
	dialer   Dialer
	opts     Options
	runner   *TargetRunner
	now      func() time.Time
	parallel int
}

// NewOrchestrator creates an orchestrator that connects with dialer.
func NewOrchestrator(dialer Dialer, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	parallel := opts.ParallelHosts
	if parallel < 1 {
		parallel = 1
	}
	scratchDir := opts.ScratchDir
	if scratchDir == "" {
		scratchDir = "/tmp"
	}

	runner := &TargetRunner{
		Archive: ArchiveStep{
			Compression: opts.Compression,
			Timeout:     opts.ExecTimeout,
		},
		Transfer: TransferStep{
			Destination: opts.Destination,
			Compression: opts.Compression,
			Timeout:     opts.FetchTimeout,
			Now:         now,
		},
		Cleanup: CleanupStep{
			Timeout: opts.ExecTimeout,
		},
		ScratchDir:    scratchDir,
		TempPath:      opts.TempPath,
		Verify:        opts.Verify,
		Primary:       NewLocalDestination(opts.Destination),
		Mirrors:       opts.Mirrors,
		RetentionKeep: opts.RetentionKeep,
	}

	return &Orchestrator{
		dialer:   dialer,
		opts:     opts,
		runner:   runner,
		now:      now,
		parallel: parallel,
	}
}

// Run executes the plan for targets. The only error returned is a
// *DestinationError when the destination root cannot be created; host and
// job failures are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, targets []config.Target) (*RunReport, error) {
	if err := os.MkdirAll(o.opts.Destination, 0755); err != nil {
		return nil, &DestinationError{Path: o.opts.Destination, Err: err}
	}

	report := &RunReport{
		ID:          uuid.New().String(),
		Destination: o.opts.Destination,
		StartedAt:   o.now(),
		Hosts:       make([]HostReport, len(targets)),
	}

	logging.L().Info("backup_run_started",
		"run_id", report.ID,
		"hosts", len(targets),
		"destination", o.opts.Destination,
		"parallel_hosts", o.parallel,
	)

	// Each goroutine writes only its own slot of report.Hosts.
	var group errgroup.Group
	group.SetLimit(o.parallel)
	for i, target := range targets {
		group.Go(func() error {
			report.Hosts[i] = o.runHost(ctx, target)
			return nil
		})
	}
	_ = group.Wait()

	report.FinishedAt = o.now()
	summary := report.Summary()
	logging.L().Info("backup_run_finished",
		"run_id", report.ID,
		"jobs", summary.Jobs,
		"succeeded", summary.JobsSucceeded,
		"failed", summary.JobsFailed,
		"hosts_failed", summary.HostsFailed,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func (o *Orchestrator) runHost(ctx context.Context, target config.Target) (host HostReport) {
	host = HostReport{
		Name:      target.Name,
		Hostname:  target.Hostname,
		StartedAt: time.Now(),
	}
	defer func() {
		host.FinishedAt = time.Now()
	}()

	if target.JobCount() == 0 {
		logging.L().Warn("backup_host_no_jobs", "host", target.Name)
		return host
	}

	transport, err := o.dialer.Dial(ctx, target)
	if err != nil {
		host.ConnectErr = &ConnectionError{Host: target.Name, Hostname: target.Hostname, Err: err}
		logging.L().Error("backup_host_connect_failed",
			"host", target.Name,
			"hostname", target.Hostname,
			"port", target.Port,
			"error", err,
		)
		return host
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logging.L().Warn("backup_host_close_failed", "host", target.Name, "error", err)
		}
	}()

	host.Jobs = o.runner.Run(ctx, transport, target)
	return host
}
