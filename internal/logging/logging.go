// Package logging wires up the daemon's structured logger: slog writing
// JSON lines to a rotated file (gopkg.in/natefinch/lumberjack.v2), falling
// back to stderr when the config sets attached or names no log_file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chinaperrin/shaked/internal/config"
)

// New builds the daemon logger per cfg. When cfg.LogFile is empty, or the
// daemon is running attached (cfg.Attached), logs go to stderr instead of
// the rotated file: rotation only matters for a detached background daemon.
func New(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" && !cfg.Attached {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
