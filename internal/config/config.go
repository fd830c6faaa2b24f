package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Host key policies accepted in ssh.host_key_policy
const (
	HostKeyPolicyTrustOnFirstUse = "trust-on-first-use"
	HostKeyPolicyStrict          = "strict"
	HostKeyPolicyInsecure        = "insecure"
)

// Exit policies accepted in backup.exit_policy
const (
	ExitPolicyLenient = "lenient"
	ExitPolicyStrict  = "strict"
)

// Config represents the application configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	SSH      SSHConfig      `yaml:"ssh" json:"ssh"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Mirrors  []MirrorConfig `yaml:"mirrors" json:"mirrors"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SSHConfig contains SSH transport settings
type SSHConfig struct {
	KnownHostsPath string `yaml:"known_hosts_path" json:"known_hosts_path"`
	HostKeyPolicy  string `yaml:"host_key_policy" json:"host_key_policy"`
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`
}

// BackupConfig contains settings for a backup run
type BackupConfig struct {
	TargetsFile   string            `yaml:"targets_file" json:"targets_file"`
	ScratchDir    string            `yaml:"scratch_dir" json:"scratch_dir"`
	Compression   CompressionConfig `yaml:"compression" json:"compression"`
	ExecTimeout   string            `yaml:"exec_timeout" json:"exec_timeout"`
	FetchTimeout  string            `yaml:"fetch_timeout" json:"fetch_timeout"`
	ParallelHosts int               `yaml:"parallel_hosts" json:"parallel_hosts"`
	Verify        bool              `yaml:"verify" json:"verify"`
	Retention     RetentionConfig   `yaml:"retention" json:"retention"`
	ExitPolicy    string            `yaml:"exit_policy" json:"exit_policy"`
}

// CompressionConfig controls how the remote archive is compressed
// Type values: "xz", "gzip", "none"
type CompressionConfig struct {
	Type  string `yaml:"type" json:"type"`
	Level int    `yaml:"level,omitempty" json:"level,omitempty"`
}

// RetentionConfig specifies how many artifacts to keep per host and child
type RetentionConfig struct {
	Keep int `yaml:"keep" json:"keep"` // 0 keeps everything
}

// DatabaseConfig contains run history settings
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// MirrorConfig describes a secondary destination artifacts are copied to
type MirrorConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	// SFTP specific
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	KeyPath  string `yaml:"key_path,omitempty" json:"key_path,omitempty"`

	// S3 specific
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"-"`
	SecretKey string `yaml:"secret_key,omitempty" json:"-"`
}

// Default returns the configuration used when no config file is present
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		SSH: SSHConfig{
			KnownHostsPath: "./data/known_hosts",
			HostKeyPolicy:  HostKeyPolicyTrustOnFirstUse,
			ConnectTimeout: "30s",
		},
		Backup: BackupConfig{
			TargetsFile: "targets.yaml",
			ScratchDir:  "/tmp",
			Compression: CompressionConfig{
				Type:  "xz",
				Level: 6,
			},
			ParallelHosts: 1,
			Verify:        true,
			ExitPolicy:    ExitPolicyLenient,
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    "./data/sshbackup.db",
		},
	}
}

// Load loads configuration from the resolved config path and environment variables
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path. A missing file yields the defaults.
func LoadFrom(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		cfg.SSH.KnownHostsPath = knownHostsPath
	}

	if policy := os.Getenv("SSH_HOST_KEY_POLICY"); policy != "" {
		cfg.SSH.HostKeyPolicy = policy
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if targetsFile := os.Getenv("TARGETS_FILE"); targetsFile != "" {
		cfg.Backup.TargetsFile = targetsFile
	}

	cfg.normalizePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.SSH.HostKeyPolicy {
	case HostKeyPolicyTrustOnFirstUse, HostKeyPolicyStrict, HostKeyPolicyInsecure:
	default:
		return fmt.Errorf("unknown ssh.host_key_policy %q", c.SSH.HostKeyPolicy)
	}

	if c.SSH.HostKeyPolicy != HostKeyPolicyInsecure && strings.TrimSpace(c.SSH.KnownHostsPath) == "" {
		return fmt.Errorf("ssh.known_hosts_path is required for host key policy %s", c.SSH.HostKeyPolicy)
	}

	for name, value := range map[string]string{
		"ssh.connect_timeout":  c.SSH.ConnectTimeout,
		"backup.exec_timeout":  c.Backup.ExecTimeout,
		"backup.fetch_timeout": c.Backup.FetchTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Backup.Compression.Type)) {
	case "", "xz", "gzip", "none":
	default:
		return fmt.Errorf("unsupported backup.compression.type %q", c.Backup.Compression.Type)
	}

	if c.Backup.ParallelHosts < 1 {
		return fmt.Errorf("backup.parallel_hosts must be at least 1")
	}

	if c.Backup.Retention.Keep < 0 {
		return fmt.Errorf("backup.retention.keep must not be negative")
	}

	if !strings.HasPrefix(c.Backup.ScratchDir, "/") {
		return fmt.Errorf("backup.scratch_dir must be an absolute remote path")
	}

	switch c.Backup.ExitPolicy {
	case ExitPolicyLenient, ExitPolicyStrict:
	default:
		return fmt.Errorf("unknown backup.exit_policy %q", c.Backup.ExitPolicy)
	}

	if c.Database.Enabled && strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required when history is enabled")
	}

	for i, mirror := range c.Mirrors {
		if err := mirror.validate(); err != nil {
			return fmt.Errorf("mirrors[%d]: %w", i, err)
		}
	}

	return nil
}

func (m MirrorConfig) validate() error {
	switch m.Type {
	case "local":
		if m.Path == "" {
			return fmt.Errorf("path is required")
		}
	case "sftp":
		if m.Host == "" || m.Username == "" || m.Path == "" {
			return fmt.Errorf("host, username and path are required")
		}
		if m.Password == "" && m.KeyPath == "" {
			return fmt.Errorf("password or key_path is required")
		}
	case "s3":
		if m.Bucket == "" || m.Region == "" {
			return fmt.Errorf("bucket and region are required")
		}
	default:
		return fmt.Errorf("unsupported mirror type %q", m.Type)
	}
	return nil
}

// ConnectTimeoutDuration returns the SSH dial timeout
func (c SSHConfig) ConnectTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.ConnectTimeout)
	return d
}

// ExecTimeoutDuration returns the per-command timeout, zero meaning none
func (c BackupConfig) ExecTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.ExecTimeout)
	return d
}

// FetchTimeoutDuration returns the per-transfer timeout, zero meaning none
func (c BackupConfig) FetchTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.FetchTimeout)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

func (c *Config) normalizePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	c.SSH.KnownHostsPath = resolvePath(c.SSH.KnownHostsPath)
	c.Database.Path = resolvePath(c.Database.Path)
	c.Logging.File = resolvePath(c.Logging.File)
	c.Backup.TargetsFile = resolvePath(c.Backup.TargetsFile)

	for i := range c.Mirrors {
		if c.Mirrors[i].Type == "local" {
			c.Mirrors[i].Path = resolvePath(c.Mirrors[i].Path)
		}
		if c.Mirrors[i].KeyPath != "" {
			c.Mirrors[i].KeyPath = resolvePath(c.Mirrors[i].KeyPath)
		}
	}
}
