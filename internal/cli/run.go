package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/TheGojiOG/sshbackup/internal/backup"
	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/database"
	"github.com/TheGojiOG/sshbackup/internal/logging"
)

type runOptions struct {
	configPath  string
	destination string
	targetsFile string
	parallel    int
	parallelSet bool
	failOnError bool
}

// loadConfig reads config.yaml. Any problem is a fatal ConfigError.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, &exitError{code: backup.ExitFatal, err: &backup.ConfigError{Err: err}}
	}
	return cfg, nil
}

func runBackup(ctx context.Context, stdout, stderr io.Writer, d deps, opts runOptions) error {
	if strings.TrimSpace(opts.destination) == "" {
		return &exitError{code: backup.ExitFatal, err: fmt.Errorf("--destination is required")}
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.targetsFile != "" {
		cfg.Backup.TargetsFile = opts.targetsFile
	}
	if opts.parallelSet {
		if opts.parallel < 1 {
			return &exitError{code: backup.ExitFatal, err: &backup.ConfigError{Err: fmt.Errorf("--parallel must be at least 1")}}
		}
		cfg.Backup.ParallelHosts = opts.parallel
	}
	if opts.failOnError {
		cfg.Backup.ExitPolicy = config.ExitPolicyStrict
	}

	if _, err := logging.Init(cfg.Logging, stderr); err != nil {
		return &exitError{code: backup.ExitFatal, err: fmt.Errorf("failed to set up logging: %w", err)}
	}
	defer logging.Close()

	targets, err := config.LoadTargets(cfg.Backup.TargetsFile)
	if err != nil {
		logging.L().Error("config_invalid", "targets_file", cfg.Backup.TargetsFile, "error", err)
		return &exitError{code: backup.ExitFatal, err: &backup.ConfigError{Err: err}}
	}

	mirrors := openMirrors(ctx, cfg)
	defer func() {
		for _, mirror := range mirrors {
			if err := mirror.Close(); err != nil {
				logging.L().Warn("mirror_close_failed", "type", mirror.GetType(), "error", err)
			}
		}
	}()

	options := backup.OptionsFromConfig(cfg.Backup, opts.destination)
	options.Mirrors = mirrors

	orchestrator := backup.NewOrchestrator(d.newDialer(cfg.SSH), options)
	report, err := orchestrator.Run(ctx, targets)
	if err != nil {
		logging.L().Error("backup_run_aborted", "destination", opts.destination, "error", err)
		return &exitError{code: backup.ExitFatal, err: err}
	}

	report.WriteSummary(stdout)
	code := report.ExitCode(cfg.Backup.ExitPolicy)

	if cfg.Database.Enabled {
		if err := recordHistory(ctx, cfg.Database.Path, report, code); err != nil {
			logging.L().Warn("history_record_failed", "run_id", report.ID, "error", err)
		}
	}

	if code != backup.ExitOK {
		summary := report.Summary()
		return &exitError{code: code, err: fmt.Errorf("%d of %d jobs failed, %d of %d hosts had failures",
			summary.JobsFailed, summary.Jobs, summary.HostsFailed, summary.Hosts)}
	}
	return nil
}

// openMirrors connects every configured mirror. A mirror that cannot be
// opened is skipped with a warning.
func openMirrors(ctx context.Context, cfg *config.Config) []backup.Destination {
	var mirrors []backup.Destination
	for i, mirrorCfg := range cfg.Mirrors {
		mirror, err := backup.NewDestination(ctx, mirrorCfg, cfg.SSH)
		if err != nil {
			logging.L().Warn("mirror_open_failed", "index", i, "type", mirrorCfg.Type, "error", err)
			continue
		}
		mirrors = append(mirrors, mirror)
	}
	return mirrors
}

func recordHistory(ctx context.Context, path string, report *backup.RunReport, code int) error {
	db, err := openHistory(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	// History is written after the run even when the run was interrupted.
	return database.NewRunStore(db).RecordRun(context.WithoutCancel(ctx), report, code)
}

func openHistory(ctx context.Context, path string) (*database.DB, error) {
	db, err := database.NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
