package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger    *slog.Logger
	mu        sync.Mutex
	logCloser io.Closer
)

// Init configures the global logger. Console output goes to console (stderr
// when nil) so that stdout stays free for the run summary.
func Init(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	if console == nil {
		console = os.Stderr
	}

	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}

	output, closer := buildOutput(cfg, console)
	logCloser = closer

	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	log.SetFlags(0)
	log.SetOutput(slogWriter{logger: logger})

	return logger, nil
}

// L returns the configured logger, or a no-op logger if not initialized.
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return logger
}

// Close flushes and closes any logger resources.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logCloser != nil {
		err := logCloser.Close()
		logCloser = nil
		return err
	}
	return nil
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	w.logger.Info(msg)
	return len(p), nil
}

func buildOutput(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return console, nil
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	return io.MultiWriter(console, fileLogger), fileLogger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
