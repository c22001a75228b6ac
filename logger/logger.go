package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger *slog.Logger
	closers      []io.Closer
	once         sync.Once
	mu           sync.RWMutex
)

type Config struct {
	Level   string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Format  string   `json:"format" yaml:"format"`   // text/json
	Outputs []string `json:"outputs" yaml:"outputs"` // stdout/stderr/file path
}

// New builds a logger from cfg. The returned closer releases any log files
// it opened.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var (
		writers []io.Writer
		files   multiCloser
	)
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				files.Close()
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				files.Close()
				return nil, nil, fmt.Errorf("failed to open log file: %w", err)
			}
			writers = append(writers, file)
			files = append(files, file)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	return NewWithWriter(cfg, io.MultiWriter(writers...)), files, nil
}

// NewWithWriter builds a logger writing to w, ignoring cfg.Outputs.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Init configures the global logger. Only the first call has an effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var (
			l *slog.Logger
			c io.Closer
		)
		l, c, err = New(cfg)
		if err != nil {
			return
		}
		mu.Lock()
		globalLogger = l
		closers = append(closers, c)
		mu.Unlock()
	})
	return err
}

// Close releases files opened by Init.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	closers = nil
	return err
}

func Debug(msg string, args ...interface{}) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	Logger().Error(msg, args...)
}

// Logger returns the global logger, or slog's default before Init.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
