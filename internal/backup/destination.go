package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/TheGojiOG/sshbackup/internal/config"
)

// Destination represents a place artifacts are stored
type Destination interface {
	// Upload stores the contents of reader under filename
	Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error

	// Delete removes a file from the destination
	Delete(ctx context.Context, filename string) error

	// List returns all files at the destination
	List(ctx context.Context) ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string

	// Close releases any connection held by the destination
	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// NewDestination creates a mirror destination from its configuration.
// SFTP mirrors use the ssh section for host key verification.
func NewDestination(ctx context.Context, mirror config.MirrorConfig, sshCfg config.SSHConfig) (Destination, error) {
	switch mirror.Type {
	case "local":
		return NewLocalDestination(mirror.Path), nil
	case "sftp":
		return NewSFTPDestination(ctx, mirror, sshCfg)
	case "s3":
		return NewS3Destination(mirror)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", mirror.Type)
	}
}

// uploadArtifact copies a local artifact to dest under the same name.
func uploadArtifact(ctx context.Context, dest Destination, artifact *Artifact) error {
	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	return dest.Upload(ctx, artifact.Name, file, info.Size())
}
