// Package observability wires process-wide logging.
//
// Commands log through CLILogger, a package-level zap logger that defaults
// to a no-op until InitCLILogger runs. Long-running servers build their own
// logger with NewLogger and inject it; the package var exists for command
// bodies where threading a logger through cobra gains nothing.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging profiles.
const (
	// ProfileStructured emits JSON records, one per line.
	ProfileStructured = "structured"

	// ProfileCLI emits human-readable console output.
	ProfileCLI = "cli"
)

// CLILogger is the process-wide logger for command output. It is a no-op
// until InitCLILogger replaces it.
var CLILogger = zap.NewNop()

// LogConfig configures logger construction.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string

	// Profile selects the encoder: "structured" or "cli".
	Profile string

	// File, when set, sends output to a size-rotated file instead of
	// stderr.
	File string

	// Rotation knobs, used only when File is set. Zero values get
	// lumberjack's defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitCLILogger builds the process logger and installs it as CLILogger.
func InitCLILogger(cfg LogConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a logger from the config without touching CLILogger.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(cfg.Profile)) {
	case "", ProfileStructured:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	case ProfileCLI, "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown logging profile %q", cfg.Profile)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	_ = CLILogger.Sync()
}
