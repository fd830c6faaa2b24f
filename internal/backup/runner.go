package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/logging"
)

// TargetRunner drives archive, transfer and cleanup for every declared
// (parent, child) pair of one host over a single open Transport. Jobs run
// strictly one after another.
type TargetRunner struct {
	Archive  ArchiveStep
	Transfer TransferStep
	Cleanup  CleanupStep

	ScratchDir string
	TempPath   TempPathFunc

	// Verify decompresses every fetched artifact before it is accepted.
	Verify bool

	// Primary is the destination directory, used for retention.
	Primary       Destination
	Mirrors       []Destination
	RetentionKeep int
}

// Run processes every job of target in declaration order. A failed job
// never stops the remaining ones.
func (r *TargetRunner) Run(ctx context.Context, transport Transport, target config.Target) []JobResult {
	results := make([]JobResult, 0, target.JobCount())
	for _, dir := range target.Directories {
		for _, child := range dir.ChildTargets {
			results = append(results, r.runJob(ctx, transport, target.Name, dir.Parent, child))
		}
	}
	return results
}

func (r *TargetRunner) runJob(ctx context.Context, transport Transport, host, parent, child string) JobResult {
	tempPath := r.tempPath()
	job := newJob(host, parent, child, tempPath)
	result := JobResult{
		Host:      host,
		Parent:    parent,
		Child:     child,
		TempPath:  tempPath,
		StartedAt: time.Now(),
	}

	job.advance(StateArchiving)
	if err := r.Archive.Run(ctx, transport, job); err != nil {
		job.advance(StateArchiveFailed)
		result.Err = err
		var archiveErr *ArchiveError
		if errors.As(err, &archiveErr) {
			result.ExitStatus = archiveErr.ExitStatus
		}
	} else {
		job.advance(StateArchived)
		job.advance(StateTransferring)
		artifact, err := r.transfer(ctx, transport, job)
		if err != nil {
			job.advance(StateTransferFailed)
			result.Err = err
		} else {
			job.advance(StateTransferred)
			result.Artifact = artifact
		}
	}

	job.advance(StateCleaning)
	if err := r.Cleanup.Run(ctx, transport, job); err != nil {
		result.CleanupErr = err
		logging.L().Warn("backup_cleanup_failed",
			"host", host,
			"parent", parent,
			"child", child,
			"temp_path", tempPath,
			"error", err,
		)
	}
	job.advance(StateDone)

	if result.Artifact != nil {
		result.Warnings = r.afterSuccess(ctx, host, parent, child, result.Artifact)
		logging.L().Info("backup_job_completed",
			"host", host,
			"parent", parent,
			"child", child,
			"artifact", result.Artifact.Path,
		)
	} else {
		logging.L().Error("backup_job_failed",
			"host", host,
			"parent", parent,
			"child", child,
			"error", result.Err,
		)
	}

	result.State = job.State()
	result.History = job.History()
	result.FinishedAt = time.Now()
	return result
}

func (r *TargetRunner) tempPath() string {
	generate := r.TempPath
	if generate == nil {
		generate = RandomTempPath
	}
	return generate(r.ScratchDir, compressionArchiveExtension(r.Archive.Compression))
}

func (r *TargetRunner) transfer(ctx context.Context, transport Transport, job *Job) (*Artifact, error) {
	artifact, err := r.Transfer.Run(ctx, transport, job)
	if err != nil {
		return nil, err
	}
	if !r.Verify {
		return artifact, nil
	}

	verified, err := VerifyArtifact(artifact.Path, job.Child)
	if err != nil {
		kept := quarantineArtifact(job, artifact.Path)
		return nil, &TransferError{Job: job.Ref(), Err: fmt.Errorf("verification of %s failed: %w", kept, err)}
	}
	artifact.Entries = verified.Entries
	return artifact, nil
}

// quarantineArtifact moves an artifact that failed verification out of the
// naming scheme so retention never counts it as a capture. It returns where
// the file now lives.
func quarantineArtifact(job *Job, path string) string {
	quarantined := path + CorruptSuffix
	if err := os.Rename(path, quarantined); err != nil {
		// A corrupt file under a valid name would displace a good backup.
		os.Remove(path)
		logging.L().Error("backup_quarantine_failed",
			"host", job.Host,
			"parent", job.Parent,
			"child", job.Child,
			"artifact", path,
			"error", err,
		)
		return path
	}
	logging.L().Warn("backup_artifact_quarantined",
		"host", job.Host,
		"parent", job.Parent,
		"child", job.Child,
		"artifact", quarantined,
	)
	return quarantined
}

// afterSuccess copies the artifact to every mirror and applies retention.
// Problems here are warnings; the job has already succeeded.
func (r *TargetRunner) afterSuccess(ctx context.Context, host, parent, child string, artifact *Artifact) []string {
	var warnings []string

	for _, mirror := range r.Mirrors {
		if err := uploadArtifact(ctx, mirror, artifact); err != nil {
			logging.L().Warn("backup_mirror_failed",
				"host", host,
				"parent", parent,
				"child", child,
				"destination", mirror.GetType(),
				"artifact", artifact.Name,
				"error", err,
			)
			warnings = append(warnings, fmt.Sprintf("mirror %s: %v", mirror.GetType(), err))
			continue
		}
		if err := r.retain(ctx, mirror, host, parent, child); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	if r.Primary != nil {
		if err := r.retain(ctx, r.Primary, host, parent, child); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	return warnings
}

func (r *TargetRunner) retain(ctx context.Context, dest Destination, host, parent, child string) error {
	if _, err := EnforceRetention(ctx, dest, host, child, r.RetentionKeep); err != nil {
		logging.L().Warn("backup_retention_failed",
			"host", host,
			"parent", parent,
			"child", child,
			"destination", dest.GetType(),
			"error", err,
		)
		return fmt.Errorf("retention %s: %w", dest.GetType(), err)
	}
	return nil
}
