package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/logging"
	"github.com/dustin/go-humanize"
)

// Artifact is the local output file of one successfully transferred job.
type Artifact struct {
	Name       string
	Path       string
	CapturedAt time.Time
	SizeBytes  int64
	Entries    int
	Overwrote  bool
}

// ArchiveStep tars and compresses one child directory into the job's
// remote scratch file and waits for the command to finish.
type ArchiveStep struct {
	Compression CompressionConfig
	Timeout     time.Duration
}

// Command builds the remote archive command. Archiving relative to parent
// keeps child as the top-level entry of the archive.
func (s ArchiveStep) Command(parent, child, tempPath string) string {
	parts := []string{}
	if env := tarCompressionEnv(s.Compression); env != "" {
		parts = append(parts, env)
	}
	parts = append(parts,
		"tar", "-"+tarCreateFlag(s.Compression), shellQuote(tempPath),
		"-C", shellQuote(parent),
		"--", shellQuote(child),
	)
	return strings.Join(parts, " ")
}

// Run executes the archive command for job. A nonzero exit status or a
// transport failure is returned as an *ArchiveError.
func (s ArchiveStep) Run(ctx context.Context, transport Transport, job *Job) error {
	stepCtx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	command := s.Command(job.Parent, job.Child, job.TempPath)
	logging.L().Debug("backup_archive_started",
		"host", job.Host,
		"parent", job.Parent,
		"child", job.Child,
		"temp_path", job.TempPath,
	)

	status, err := transport.Exec(stepCtx, command)
	if err != nil {
		return &ArchiveError{Job: job.Ref(), ExitStatus: status, Err: asTimeout(stepCtx, err)}
	}
	if status != 0 {
		return &ArchiveError{Job: job.Ref(), ExitStatus: status}
	}
	return nil
}

// TransferStep fetches a completed scratch archive into the destination
// directory under its artifact name.
type TransferStep struct {
	Destination string
	Compression CompressionConfig
	Timeout     time.Duration
	Now         func() time.Time
}

// Run fetches job's scratch file. An artifact already present at the
// computed path is overwritten, and the overwrite is logged and flagged on
// the returned Artifact. Failures are returned as *TransferError.
func (s TransferStep) Run(ctx context.Context, transport Transport, job *Job) (*Artifact, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	capturedAt := now()
	name := ArtifactName(job.Host, job.Child, capturedAt, compressionArchiveExtension(s.Compression))
	localPath := filepath.Join(s.Destination, name)

	artifact := &Artifact{
		Name:       name,
		Path:       localPath,
		CapturedAt: capturedAt,
	}

	if _, err := os.Stat(localPath); err == nil {
		artifact.Overwrote = true
		logging.L().Warn("backup_artifact_collision",
			"host", job.Host,
			"parent", job.Parent,
			"child", job.Child,
			"artifact", localPath,
		)
	}

	stepCtx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	if err := transport.Fetch(stepCtx, job.TempPath, localPath); err != nil {
		return nil, &TransferError{Job: job.Ref(), Err: asTimeout(stepCtx, err)}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &TransferError{Job: job.Ref(), Err: fmt.Errorf("artifact missing after fetch: %w", err)}
	}
	artifact.SizeBytes = info.Size()

	logging.L().Info("backup_artifact_written",
		"host", job.Host,
		"parent", job.Parent,
		"child", job.Child,
		"artifact", localPath,
		"size", humanize.IBytes(uint64(artifact.SizeBytes)),
	)
	return artifact, nil
}

// CleanupStep removes the job's remote scratch file. Removing a file that
// does not exist succeeds.
type CleanupStep struct {
	Timeout time.Duration
}

// Command builds the remote removal command.
func (s CleanupStep) Command(tempPath string) string {
	return "rm -f -- " + shellQuote(tempPath)
}

// Run removes job's scratch file. Failures come back as *CleanupWarning.
// Cleanup still runs after the run's context has been cancelled.
func (s CleanupStep) Run(ctx context.Context, transport Transport, job *Job) error {
	stepCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	status, err := transport.Exec(stepCtx, s.Command(job.TempPath))
	if err != nil {
		return &CleanupWarning{Job: job.Ref(), TempPath: job.TempPath, ExitStatus: status, Err: asTimeout(stepCtx, err)}
	}
	if status != 0 {
		return &CleanupWarning{Job: job.Ref(), TempPath: job.TempPath, ExitStatus: status}
	}
	return nil
}
