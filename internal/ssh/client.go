package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/logging"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const stderrTailLimit = 4096

// Client wraps an SSH connection to one host. It is not safe for
// concurrent Exec/Fetch calls; callers run one command at a time.
type Client struct {
	config      *ClientConfig
	client      *ssh.Client
	connectedAt time.Time

	mu     sync.Mutex
	sftp   *sftp.Client
	closed bool
}

// ClientConfig holds SSH connection configuration
type ClientConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyPath        string
	Timeout        time.Duration
	KnownHostsPath string
	HostKeyPolicy  HostKeyPolicy
}

// NewClient connects and authenticates to the configured host
func NewClient(ctx context.Context, config *ClientConfig) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Port == 0 {
		config.Port = 22
	}

	client := &Client{
		config: config,
	}

	if err := client.connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect(ctx context.Context) error {
	authMethods, err := c.authMethods()
	if err != nil {
		return err
	}

	hostKeyCallback, err := NewHostKeyCallback(c.config.KnownHostsPath, c.config.HostKeyPolicy)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	address := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	dialer := net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial SSH: %w", err)
	}

	// Bound the handshake; the deadline is lifted once authenticated.
	_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to establish SSH session: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.connectedAt = time.Now()

	logging.L().Info("ssh_connected",
		"host", c.config.Host,
		"port", c.config.Port,
		"user", c.config.Username,
	)
	return nil
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.config.KeyPath != "" {
		signer, err := LoadSigner(c.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		password := c.config.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method configured for %s", c.config.Host)
	}
	return methods, nil
}

// Exec runs command in a new session and waits for it to finish. A nonzero
// exit status is returned as a value, not an error; errors mean the command
// could not be run or did not report a status. When ctx is done first the
// remote process is killed and ctx's error is wrapped.
func (c *Client) Exec(ctx context.Context, command string) (int, error) {
	if c.client == nil {
		return -1, fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stderr := &tailBuffer{limit: stderrTailLimit}
	session.Stderr = stderr

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return c.exitStatus(command, err, stderr)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return -1, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
}

func (c *Client) exitStatus(command string, err error, stderr *tailBuffer) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		logging.L().Debug("ssh_command_nonzero_exit",
			"host", c.config.Host,
			"command", command,
			"exit_status", exitErr.ExitStatus(),
			"stderr", stderr.String(),
		)
		return exitErr.ExitStatus(), nil
	}

	return -1, fmt.Errorf("command failed: %w", err)
}

// Fetch copies remotePath to localPath over SFTP. The file is written to
// localPath + ".part" and renamed into place once complete, so a failed or
// interrupted transfer never leaves a truncated artifact behind.
func (c *Client) Fetch(ctx context.Context, remotePath, localPath string) error {
	sftpClient, err := c.SFTP()
	if err != nil {
		return err
	}

	src, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer src.Close()

	partPath := localPath + ".part"
	dst, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := src.WriteTo(dst)
		copyDone <- err
	}()

	select {
	case err = <-copyDone:
	case <-ctx.Done():
		// Tearing down the SFTP client unblocks the in-flight reads.
		c.resetSFTP()
		<-copyDone
		err = fmt.Errorf("transfer interrupted: %w", ctx.Err())
	}

	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to copy remote file: %w", err)
	}

	if err := os.Rename(partPath, localPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to move transferred file into place: %w", err)
	}

	return nil
}

// SFTP returns the connection's SFTP client, opening it on first use.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	client, err := sftp.NewClient(c.client,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentReads(true),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	c.sftp = client
	return client, nil
}

func (c *Client) resetSFTP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		c.sftp.Close()
		c.sftp = nil
	}
}

// Close closes the SFTP and SSH connections. Calling it again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftp != nil {
		c.sftp.Close()
		c.sftp = nil
	}
	if c.client != nil {
		err := c.client.Close()
		logging.L().Debug("ssh_disconnected",
			"host", c.config.Host,
			"uptime", time.Since(c.connectedAt).Round(time.Millisecond).String(),
		)
		return err
	}
	return nil
}

// RemoteAddr returns the remote address of the connection
func (c *Client) RemoteAddr() net.Addr {
	if c.client != nil {
		return c.client.RemoteAddr()
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
