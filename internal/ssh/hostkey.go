package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides what happens when a host presents a key
type HostKeyPolicy string

const (
	// PolicyTrustOnFirstUse records unknown keys and rejects changed ones.
	PolicyTrustOnFirstUse HostKeyPolicy = config.HostKeyPolicyTrustOnFirstUse
	// PolicyStrict only accepts keys already present in known_hosts.
	PolicyStrict HostKeyPolicy = config.HostKeyPolicyStrict
	// PolicyInsecure accepts any key and records nothing.
	PolicyInsecure HostKeyPolicy = config.HostKeyPolicyInsecure
)

// known_hosts appends from concurrent host connections
var knownHostsMu sync.Mutex

// NewHostKeyCallback builds the host key callback for policy using a known_hosts file.
func NewHostKeyCallback(knownHostsPath string, policy HostKeyPolicy) (ssh.HostKeyCallback, error) {
	switch policy {
	case PolicyInsecure:
		return ssh.InsecureIgnoreHostKey(), nil
	case PolicyTrustOnFirstUse, PolicyStrict:
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}

	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, fmt.Errorf("host key policy %s requires a known_hosts path", policy)
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	baseCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := baseCallback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		if len(keyErr.Want) == 0 {
			if policy != PolicyTrustOnFirstUse {
				return fmt.Errorf("unknown SSH host key for %s", hostname)
			}

			if err := appendKnownHost(knownHostsPath, hostname, remote, key); err != nil {
				return err
			}

			logging.L().Info("ssh_host_key_accepted",
				"host", hostname,
				"fingerprint", ssh.FingerprintSHA256(key),
			)
			return nil
		}

		logging.L().Warn("ssh_host_key_changed",
			"host", hostname,
			"fingerprint", ssh.FingerprintSHA256(key),
		)
		return fmt.Errorf("SSH host key changed for %s", hostname)
	}, nil
}

func ensureKnownHostsFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	hosts := buildKnownHostsEntries(hostname, remote)
	line := knownhosts.Line(hosts, key)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// buildKnownHostsEntries lists the names a key is recorded under: the dialed
// name and, when different, the resolved remote address.
func buildKnownHostsEntries(hostname string, remote net.Addr) []string {
	var entries []string
	dialHost, dialPort := splitHostPort(hostname)
	remoteHost, remotePort := splitAddr(remote)
	if dialPort == "" {
		dialPort = remotePort
	}
	if dialPort == "" {
		dialPort = "22"
	}
	if remotePort == "" {
		remotePort = dialPort
	}

	if dialHost != "" {
		entries = append(entries, knownhosts.Normalize(net.JoinHostPort(dialHost, dialPort)))
	}

	if remoteHost != "" && remoteHost != dialHost {
		entries = append(entries, knownhosts.Normalize(net.JoinHostPort(remoteHost, remotePort)))
	}

	return entries
}

func splitHostPort(address string) (string, string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, ""
	}
	return host, port
}

func splitAddr(remote net.Addr) (string, string) {
	if remote == nil {
		return "", ""
	}
	return splitHostPort(remote.String())
}
