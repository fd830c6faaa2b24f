package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/TheGojiOG/sshbackup/internal/crypto"
)

// DefaultSSHPort is used when a target omits its port
const DefaultSSHPort = 22

const (
	encryptedSecretPrefix = "enc:"
	envSecretPrefix       = "env:"
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Target is one remote host declared for backup
type Target struct {
	Name        string      `json:"name" yaml:"name" validate:"required,safename"`
	Hostname    string      `json:"hostname" yaml:"hostname" validate:"required"`
	Username    string      `json:"username" yaml:"username" validate:"required"`
	Secret      string      `json:"-" yaml:"secret" validate:"required_without=KeyPath"`
	Password    string      `json:"-" yaml:"password,omitempty" validate:"-"`
	KeyPath     string      `json:"key_path,omitempty" yaml:"key_path,omitempty" validate:"-"`
	Port        int         `json:"port" yaml:"port" validate:"min=1,max=65535"`
	Directories []Directory `json:"directories" yaml:"directories" validate:"dive"`
}

// Directory is a parent path and the children under it archived independently
type Directory struct {
	Parent       string   `json:"parent" yaml:"parent" validate:"required,startswith=/"`
	ChildTargets []string `json:"child_targets" yaml:"child_targets" validate:"dive,required,childname"`
}

// JobCount returns the number of (parent, child) pairs declared for the target
func (t Target) JobCount() int {
	count := 0
	for _, dir := range t.Directories {
		count += len(dir.ChildTargets)
	}
	return count
}

// ValidationError lists every problem found in a targets file
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid targets: " + strings.Join(e.Problems, "; ")
}

type targetEntry struct {
	SSHTarget *Target `yaml:"ssh_target"`
}

// LoadTargets reads, defaults, validates and resolves secrets of a targets file
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets decodes a YAML sequence of target declarations. Each entry may be
// wrapped in an ssh_target key or given as a bare mapping.
func ParseTargets(data []byte) ([]Target, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}

	targets := make([]Target, 0, len(nodes))
	for i := range nodes {
		var entry targetEntry
		if err := nodes[i].Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to parse target %d: %w", i, err)
		}

		var target Target
		if entry.SSHTarget != nil {
			target = *entry.SSHTarget
		} else if err := nodes[i].Decode(&target); err != nil {
			return nil, fmt.Errorf("failed to parse target %d: %w", i, err)
		}

		target.applyDefaults()
		targets = append(targets, target)
	}

	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}

	for i := range targets {
		secret, err := resolveSecret(targets[i].Secret)
		if err != nil {
			return nil, &ValidationError{Problems: []string{
				fmt.Sprintf("targets[%d] (%s): secret: %v", i, targets[i].Name, err),
			}}
		}
		targets[i].Secret = secret
	}

	return targets, nil
}

func (t *Target) applyDefaults() {
	t.Name = strings.TrimSpace(t.Name)
	t.Hostname = strings.TrimSpace(t.Hostname)
	if t.Port == 0 {
		t.Port = DefaultSSHPort
	}
	if t.Secret == "" {
		t.Secret = t.Password
	}
	t.Password = ""
}

type artifactOwner struct {
	index int
	name  string
	child string
}

// ValidateTargets checks every declaration and reports all problems at once
func ValidateTargets(targets []Target) error {
	var problems []string
	seen := make(map[string]int, len(targets))
	artifacts := map[string]artifactOwner{}

	for i, target := range targets {
		if err := targetValidator.Struct(target); err != nil {
			fieldErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				return fmt.Errorf("failed to validate targets: %w", err)
			}
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("targets[%d] (%s): %s", i, target.Name, describeFieldError(fe)))
			}
		}

		if target.Name != "" {
			if first, dup := seen[target.Name]; dup {
				problems = append(problems, fmt.Sprintf("targets[%d]: name %q already used by targets[%d]", i, target.Name, first))
			} else {
				seen[target.Name] = i
			}
		}

		for _, dir := range target.Directories {
			for _, child := range dir.ChildTargets {
				if target.Name == "" || child == "" {
					continue
				}
				// Artifacts are named <host>_<child>_<timestamp>, so distinct
				// targets must never share that prefix.
				key := target.Name + "_" + child
				owner, taken := artifacts[key]
				if !taken {
					artifacts[key] = artifactOwner{index: i, name: target.Name, child: child}
					continue
				}
				if owner.index != i {
					problems = append(problems, fmt.Sprintf(
						"targets[%d] (%s): child %q produces the same artifact names as child %q of targets[%d] (%s)",
						i, target.Name, child, owner.child, owner.index, owner.name))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Target.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return "one of secret or key_path is required"
	case "safename":
		return field + " must only contain letters, digits, '.', '_' or '-'"
	case "childname":
		return fmt.Sprintf("%s %q must name a direct child of parent", field, fe.Value())
	case "startswith":
		return field + " must be an absolute path"
	case "min", "max":
		return fmt.Sprintf("%s must be between 1 and 65535", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

var targetValidator = newTargetValidator()

func newTargetValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	_ = v.RegisterValidation("safename", func(fl validator.FieldLevel) bool {
		return IsSafeName(fl.Field().String())
	})
	_ = v.RegisterValidation("childname", func(fl validator.FieldLevel) bool {
		return IsDirectChild(fl.Field().String())
	})

	return v
}

// IsSafeName reports whether name can be used verbatim in a local filename
func IsSafeName(name string) bool {
	return name != "." && name != ".." && safeNamePattern.MatchString(name)
}

// IsDirectChild reports whether child names an entry directly under a parent
func IsDirectChild(child string) bool {
	if strings.TrimSpace(child) == "" {
		return false
	}
	if child == "." || child == ".." {
		return false
	}
	return !strings.ContainsAny(child, "/\x00")
}

func resolveSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, encryptedSecretPrefix):
		manager, err := crypto.NewEncryptionManagerFromEnv()
		if err != nil {
			return "", err
		}
		return manager.DecryptString(strings.TrimPrefix(value, encryptedSecretPrefix))
	case strings.HasPrefix(value, envSecretPrefix):
		name := strings.TrimPrefix(value, envSecretPrefix)
		secret := os.Getenv(name)
		if secret == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return secret, nil
	default:
		return value, nil
	}
}

// EncryptedSecret formats ciphertext for use as a target secret
func EncryptedSecret(encoded string) string {
	return encryptedSecretPrefix + encoded
}
