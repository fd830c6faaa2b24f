package backup

import (
	"path"
	"strconv"
	"strings"

	"github.com/TheGojiOG/sshbackup/internal/config"
)

// CompressionConfig controls archive compression
// Type values: "xz", "gzip", "none"
type CompressionConfig = config.CompressionConfig

const (
	CompressionXZ   = "xz"
	CompressionGzip = "gzip"
	CompressionNone = "none"
)

func normalizeCompression(cfg CompressionConfig) CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(cfg.Type))
	if compressionType == "" {
		compressionType = CompressionXZ
	}

	level := cfg.Level
	if level == 0 {
		level = 6
	}
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}

	switch compressionType {
	case CompressionXZ, CompressionGzip, CompressionNone:
	default:
		compressionType = CompressionXZ
	}

	return CompressionConfig{
		Type:  compressionType,
		Level: level,
	}
}

// compressionArchiveExtension is the artifact extension, without the dot.
func compressionArchiveExtension(cfg CompressionConfig) string {
	switch normalizeCompression(cfg).Type {
	case CompressionNone:
		return "tar"
	case CompressionGzip:
		return "tar.gz"
	default:
		return "tar.xz"
	}
}

func detectCompressionFromFilename(filename string) CompressionConfig {
	base := strings.ToLower(path.Base(filename))
	switch {
	case strings.HasSuffix(base, ".tar.xz") || strings.HasSuffix(base, ".txz"):
		return CompressionConfig{Type: CompressionXZ, Level: 6}
	case strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz"):
		return CompressionConfig{Type: CompressionGzip, Level: 6}
	case strings.HasSuffix(base, ".tar"):
		return CompressionConfig{Type: CompressionNone}
	default:
		return CompressionConfig{Type: CompressionXZ, Level: 6}
	}
}

func tarCreateFlag(cfg CompressionConfig) string {
	switch normalizeCompression(cfg).Type {
	case CompressionNone:
		return "cf"
	case CompressionGzip:
		return "czf"
	default:
		return "cJf"
	}
}

func tarCompressionEnv(cfg CompressionConfig) string {
	compression := normalizeCompression(cfg)
	switch compression.Type {
	case CompressionXZ:
		return "XZ_OPT=-" + strconv.Itoa(compression.Level)
	case CompressionGzip:
		return "GZIP=-" + strconv.Itoa(compression.Level)
	default:
		return ""
	}
}

// shellQuote wraps value in single quotes for a POSIX shell.
func shellQuote(value string) string {
	return "'" + escapeSingleQuotes(value) + "'"
}

func escapeSingleQuotes(value string) string {
	return strings.ReplaceAll(value, "'", "'\\''")
}
