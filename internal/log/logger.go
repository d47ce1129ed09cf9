package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// NewLogger builds a slog logger writing to stderr. A nil cfg yields info
// level JSON output.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch strings.ToLower(cfg.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg != nil && cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
