package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TheGojiOG/sshbackup/internal/logging"
)

// LocalDestination stores artifacts on the local filesystem
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload copies an artifact into the local destination
func (ld *LocalDestination) Upload(_ context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := filepath.Join(ld.basePath, filename)
	partPath := destPath + ".part"

	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	if written != sizeBytes {
		os.Remove(partPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to move backup file into place: %w", err)
	}

	logging.L().Debug("local_destination_upload_complete", "path", destPath, "bytes", written)
	return nil
}

// Delete removes a file from the local destination
func (ld *LocalDestination) Delete(_ context.Context, filename string) error {
	destPath := filepath.Join(ld.basePath, filename)
	if err := os.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns all files in the local destination
func (ld *LocalDestination) List(_ context.Context) ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logging.L().Warn("local_destination_stat_failed", "file", entry.Name(), "error", err)
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

// Exists checks if a file exists
func (ld *LocalDestination) Exists(filename string) bool {
	_, err := os.Stat(filepath.Join(ld.basePath, filename))
	return err == nil
}

// Close is a no-op for local storage
func (ld *LocalDestination) Close() error {
	return nil
}
