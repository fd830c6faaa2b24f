package backup

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/logging"
	"github.com/TheGojiOG/sshbackup/internal/ssh"
	"github.com/pkg/sftp"
)

// SFTPDestination stores artifacts on a remote SFTP server
type SFTPDestination struct {
	basePath   string
	sftpClient *sftp.Client
	closer     io.Closer
}

// NewSFTPDestination connects to the mirror host and ensures its base
// directory exists.
func NewSFTPDestination(ctx context.Context, mirror config.MirrorConfig, sshCfg config.SSHConfig) (*SFTPDestination, error) {
	port := mirror.Port
	if port == 0 {
		port = config.DefaultSSHPort
	}

	client, err := ssh.NewClient(ctx, &ssh.ClientConfig{
		Host:           mirror.Host,
		Port:           port,
		Username:       mirror.Username,
		Password:       mirror.Password,
		KeyPath:        mirror.KeyPath,
		Timeout:        sshCfg.ConnectTimeoutDuration(),
		KnownHostsPath: sshCfg.KnownHostsPath,
		HostKeyPolicy:  ssh.HostKeyPolicy(sshCfg.HostKeyPolicy),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SFTP mirror %s: %w", mirror.Host, err)
	}

	sftpClient, err := client.SFTP()
	if err != nil {
		client.Close()
		return nil, err
	}

	dest, err := newSFTPDestination(sftpClient, client, mirror.Path)
	if err != nil {
		client.Close()
		return nil, err
	}

	logging.L().Info("sftp_destination_connected", "host", mirror.Host, "path", mirror.Path)
	return dest, nil
}

func newSFTPDestination(client *sftp.Client, closer io.Closer, basePath string) (*SFTPDestination, error) {
	if err := client.MkdirAll(basePath); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &SFTPDestination{
		basePath:   basePath,
		sftpClient: client,
		closer:     closer,
	}, nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.closer != nil {
		return sd.closer.Close()
	}
	return sd.sftpClient.Close()
}

// Upload uploads an artifact to the SFTP destination
func (sd *SFTPDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.basePath, filename)
	partPath := destPath + ".part"

	file, err := sd.sftpClient.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(readerWithContext(ctx, reader))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if written != sizeBytes {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := sd.sftpClient.PosixRename(partPath, destPath); err != nil {
		sd.sftpClient.Remove(partPath)
		return fmt.Errorf("failed to move remote file into place: %w", err)
	}

	logging.L().Debug("sftp_destination_upload_complete", "path", destPath, "bytes", written)
	return nil
}

// Delete removes a file from the SFTP destination
func (sd *SFTPDestination) Delete(_ context.Context, filename string) error {
	destPath := path.Join(sd.basePath, filename)
	if err := sd.sftpClient.Remove(destPath); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all files in the SFTP destination
func (sd *SFTPDestination) List(_ context.Context) ([]BackupFile, error) {
	entries, err := sd.sftpClient.ReadDir(sd.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

// readerWithContext stops reading once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
