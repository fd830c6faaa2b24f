package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheGojiOG/sshbackup/internal/backup"
	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/crypto"
	"github.com/TheGojiOG/sshbackup/internal/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const testTargets = `
- ssh_target:
    name: db1
    hostname: 10.0.0.5
    username: backup
    secret: hunter2
    directories:
      - parent: /var/lib
        child_targets:
          - postgres
- name: web1
  hostname: 10.0.0.6
  username: backup
  secret: hunter2
  directories:
    - parent: /srv
      child_targets:
        - www
`

// stubTransport accepts every command and fetches fixed bytes.
type stubTransport struct{}

func (stubTransport) Exec(context.Context, string) (int, error) { return 0, nil }
func (stubTransport) Close() error                              { return nil }
func (stubTransport) Fetch(_ context.Context, _, local string) error {
	return os.WriteFile(local, []byte("archive-bytes"), 0640)
}

// stubDialer reaches db1 and refuses every other host.
type stubDialer struct{}

func (stubDialer) Dial(_ context.Context, target config.Target) (backup.Transport, error) {
	if target.Name == "db1" {
		return stubTransport{}, nil
	}
	return nil, errors.New("connection refused")
}

type testEnv struct {
	dir        string
	configPath string
	dest       string
	stdin      *strings.Reader
}

func newTestEnv(t *testing.T, targets string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		dest:       filepath.Join(dir, "backups"),
		stdin:      strings.NewReader(""),
	}

	cfg := `
ssh:
  known_hosts_path: ` + filepath.Join(dir, "known_hosts") + `
backup:
  targets_file: ` + filepath.Join(dir, "targets.yaml") + `
  verify: false
database:
  enabled: true
  path: ` + filepath.Join(dir, "history.db") + `
`
	if err := os.WriteFile(env.configPath, []byte(cfg), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "targets.yaml"), []byte(targets), 0600); err != nil {
		t.Fatalf("failed to write targets: %v", err)
	}
	return env
}

func (e *testEnv) execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr, deps{
		stdin:     e.stdin,
		newDialer: func(config.SSHConfig) backup.Dialer { return stubDialer{} },
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootHelpShowsUsage(t *testing.T) {
	env := newTestEnv(t, testTargets)
	out, _, err := env.execute("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Usage:") || !strings.Contains(out, "--destination") {
		t.Fatalf("help output missing expected content; got: %s", out)
	}
}

func TestRunRequiresDestination(t *testing.T) {
	env := newTestEnv(t, testTargets)
	_, _, err := env.execute("--config", env.configPath)
	if err == nil || exitCode(err) != backup.ExitFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestRunLenientReportsFailuresWithExitZero(t *testing.T) {
	env := newTestEnv(t, testTargets)
	out, _, err := env.execute("--config", env.configPath, "-d", env.dest)
	if err != nil {
		t.Fatalf("lenient run should succeed, got %v", err)
	}
	if !strings.Contains(out, "1/1 jobs succeeded on 2 hosts") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "web1: SKIPPED") {
		t.Fatalf("expected unreachable host in summary:\n%s", out)
	}

	matches, _ := filepath.Glob(filepath.Join(env.dest, "db1_postgres_*.tar.xz"))
	if len(matches) != 1 {
		t.Fatalf("expected one artifact, got %v", matches)
	}
}

func TestRunStrictExitsWithJobFailures(t *testing.T) {
	env := newTestEnv(t, testTargets)
	_, _, err := env.execute("--config", env.configPath, "-d", env.dest, "--fail-on-error", "--parallel", "2")
	if got := exitCode(err); got != backup.ExitJobFailures {
		t.Fatalf("expected exit %d, got %d (%v)", backup.ExitJobFailures, got, err)
	}
}

func TestRunInvalidTargetsIsConfigError(t *testing.T) {
	env := newTestEnv(t, "- name: bad host\n  hostname: x\n")
	_, _, err := env.execute("--config", env.configPath, "-d", env.dest)

	var configErr *backup.ConfigError
	if !errors.As(err, &configErr) || exitCode(err) != backup.ExitFatal {
		t.Fatalf("expected fatal config error, got %v", err)
	}
	if _, statErr := os.Stat(env.dest); !os.IsNotExist(statErr) {
		t.Fatalf("destination must not be touched on config errors")
	}
}

func TestRunRejectsInvalidParallel(t *testing.T) {
	env := newTestEnv(t, testTargets)
	_, _, err := env.execute("--config", env.configPath, "-d", env.dest, "--parallel", "0")
	var configErr *backup.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestRunUncreatableDestinationIsFatal(t *testing.T) {
	env := newTestEnv(t, testTargets)
	blocker := filepath.Join(env.dir, "file")
	os.WriteFile(blocker, []byte("x"), 0600)

	_, _, err := env.execute("--config", env.configPath, "-d", filepath.Join(blocker, "sub"))
	var destErr *backup.DestinationError
	if !errors.As(err, &destErr) || exitCode(err) != backup.ExitFatal {
		t.Fatalf("expected fatal destination error, got %v", err)
	}
}

func TestHistoryListsRecordedRuns(t *testing.T) {
	env := newTestEnv(t, testTargets)
	if _, _, err := env.execute("--config", env.configPath, "-d", env.dest); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, _, err := env.execute("history", "--config", env.configPath, "--jobs")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for _, want := range []string{"RUN", "1/1", "db1", "/var/lib/postgres", "succeeded", "web1", "unreachable", "connection refused"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in history:\n%s", want, out)
		}
	}

	out, _, err = env.execute("history", "--config", env.configPath, "-o", "json")
	if err != nil || !strings.HasPrefix(strings.TrimSpace(out), "[") {
		t.Fatalf("expected json history, got %q (%v)", out, err)
	}
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	t.Setenv(crypto.KeyEnv, key)

	env := newTestEnv(t, testTargets)
	env.stdin = strings.NewReader("hunter2\n")
	out, _, err := env.execute("encrypt-secret")
	if err != nil {
		t.Fatalf("encrypt-secret failed: %v", err)
	}

	value := strings.TrimSpace(out)
	if !strings.HasPrefix(value, "enc:") {
		t.Fatalf("expected enc: prefix, got %q", value)
	}
	manager, _ := crypto.NewEncryptionManager(key)
	plain, err := manager.DecryptString(strings.TrimPrefix(value, "enc:"))
	if err != nil || plain != "hunter2" {
		t.Fatalf("round trip failed: %q %v", plain, err)
	}
}

func TestEncryptSecretWrapsPrivateKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	t.Setenv(crypto.KeyEnv, key)

	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	env := newTestEnv(t, testTargets)
	keyPath := filepath.Join(env.dir, "id_ed25519")
	os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600)

	out, _, err := env.execute("encrypt-secret", "--key-file", keyPath)
	if err != nil {
		t.Fatalf("encrypt-secret --key-file failed: %v", err)
	}
	wrapped := filepath.Join(env.dir, "id_ed25519.enc")
	os.WriteFile(wrapped, []byte(out), 0600)

	signer, err := ssh.LoadSigner(wrapped)
	if err != nil {
		t.Fatalf("wrapped key does not load: %v", err)
	}
	if signer.PublicKey().Type() != gossh.KeyAlgoED25519 {
		t.Fatalf("unexpected key type %s", signer.PublicKey().Type())
	}

	os.WriteFile(keyPath, []byte("not a key"), 0600)
	if _, _, err := env.execute("encrypt-secret", "--key-file", keyPath); err == nil {
		t.Fatalf("expected garbage key file to be rejected")
	}
}

func TestEncryptSecretGenerateKey(t *testing.T) {
	env := newTestEnv(t, testTargets)
	out, _, err := env.execute("encrypt-secret", "--generate-key")
	if err != nil {
		t.Fatalf("generate key failed: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	if err != nil || len(decoded) != 32 {
		t.Fatalf("expected 32-byte base64 key, got %q", out)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, testTargets)
	out, _, err := env.execute("version")
	if err != nil || strings.TrimSpace(out) != Version {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
