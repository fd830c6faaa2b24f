package backup

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the capture timestamp embedded in artifact names.
// Second resolution: two captures of the same host and child within one
// second map to the same name.
const TimestampLayout = "2006-01-02_15-04-05"

// CorruptSuffix is appended to artifacts that fail verification. Retention
// ignores such files.
const CorruptSuffix = ".corrupt"

// ArtifactName returns <host>_<child>_<timestamp>.<ext>.
func ArtifactName(host, child string, capturedAt time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", host, child, capturedAt.Format(TimestampLayout), ext)
}

// artifactPrefix is the part of an artifact name shared by every capture
// of one host and child.
func artifactPrefix(host, child string) string {
	return host + "_" + child + "_"
}

// parseArtifactTime extracts the capture time from an artifact name that
// starts with prefix. ok is false for names that do not match.
func parseArtifactTime(name, prefix string) (time.Time, bool) {
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	rest := name[len(prefix):]
	if len(rest) < len(TimestampLayout)+1 || rest[len(TimestampLayout)] != '.' {
		return time.Time{}, false
	}
	switch rest[len(TimestampLayout)+1:] {
	case "tar", "tar.gz", "tar.xz":
	default:
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, rest[:len(TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// TempPathFunc generates the remote scratch path for one job.
type TempPathFunc func(scratchDir, ext string) string

// RandomTempPath places the scratch file under scratchDir with a random name.
func RandomTempPath(scratchDir, ext string) string {
	return path.Join(scratchDir, uuid.New().String()+"."+ext)
}
