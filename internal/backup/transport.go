package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/ssh"
)

// Transport is an authenticated session to one remote host. A Transport is
// stateful and not reentrant: callers issue one Exec or Fetch at a time.
type Transport interface {
	// Exec runs command to completion and returns its exit status. A
	// nonzero status is not an error.
	Exec(ctx context.Context, command string) (int, error)

	// Fetch copies remotePath to localPath, failing if the remote file does
	// not exist or the local path cannot be written.
	Fetch(ctx context.Context, remotePath, localPath string) error

	// Close releases the session.
	Close() error
}

// Dialer opens a Transport to a declared target.
type Dialer interface {
	Dial(ctx context.Context, target config.Target) (Transport, error)
}

// SSHDialer connects to targets with the ssh package.
type SSHDialer struct {
	KnownHostsPath string
	HostKeyPolicy  ssh.HostKeyPolicy
	Timeout        time.Duration
}

// NewSSHDialer builds a dialer from the ssh section of the configuration.
func NewSSHDialer(cfg config.SSHConfig) *SSHDialer {
	return &SSHDialer{
		KnownHostsPath: cfg.KnownHostsPath,
		HostKeyPolicy:  ssh.HostKeyPolicy(cfg.HostKeyPolicy),
		Timeout:        cfg.ConnectTimeoutDuration(),
	}
}

// Dial connects and authenticates to target.
func (d *SSHDialer) Dial(ctx context.Context, target config.Target) (Transport, error) {
	client, err := ssh.NewClient(ctx, &ssh.ClientConfig{
		Host:           target.Hostname,
		Port:           target.Port,
		Username:       target.Username,
		Password:       target.Secret,
		KeyPath:        target.KeyPath,
		Timeout:        d.Timeout,
		KnownHostsPath: d.KnownHostsPath,
		HostKeyPolicy:  d.HostKeyPolicy,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// withTimeout derives a context bounded by timeout; zero means no bound.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// asTimeout tags err with ErrTimeout when the step's own deadline expired.
func asTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if !errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
	}
	return err
}
