package backup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/logging"
)

// EnforceRetention deletes the oldest artifacts of one host and child at
// dest so that at most keep remain. keep <= 0 keeps everything. It returns
// the names of the deleted files.
func EnforceRetention(ctx context.Context, dest Destination, host, child string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	files, err := dest.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	type capture struct {
		name string
		at   time.Time
	}

	prefix := artifactPrefix(host, child)
	var captures []capture
	for _, file := range files {
		at, ok := parseArtifactTime(file.Filename, prefix)
		if !ok {
			continue
		}
		captures = append(captures, capture{name: file.Filename, at: at})
	}

	if len(captures) <= keep {
		return nil, nil
	}

	// Newest first
	sort.Slice(captures, func(i, j int) bool {
		if captures[i].at.Equal(captures[j].at) {
			return captures[i].name > captures[j].name
		}
		return captures[i].at.After(captures[j].at)
	})

	var deleted []string
	var firstErr error
	for _, old := range captures[keep:] {
		if err := dest.Delete(ctx, old.name); err != nil {
			logging.L().Warn("retention_delete_failed",
				"destination", dest.GetType(),
				"file", old.name,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted = append(deleted, old.name)
	}

	if len(deleted) > 0 {
		logging.L().Info("retention_enforced",
			"destination", dest.GetType(),
			"host", host,
			"child", child,
			"keep", keep,
			"deleted", len(deleted),
		)
	}
	return deleted, firstErr
}
