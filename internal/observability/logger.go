// Package observability holds the process-wide loggers and metrics.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

var (
	// CLILogger writes human-readable diagnostics to stderr so stdout stays
	// reserved for JSONL or table output.
	CLILogger = zap.NewNop()

	// ServerLogger is used by the HTTP binding.
	ServerLogger = zap.NewNop()

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init configures CLILogger and ServerLogger. Unknown levels are rejected;
// an empty profile means STRUCTURED.
func Init(lvl, profile string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(parsed)

	server, err := newLogger(profile, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	cli, err := newLogger(ProfileConsole, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	CLILogger = cli.Named("cli")
	ServerLogger = server.Named("server")
	return nil
}

// ParseLevel reads a zap level name ("debug", "info", "warn", "error").
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// SetLevel changes the level of both loggers at runtime.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// NewLogger builds a logger for profile writing to ws at the shared level.
func NewLogger(profile string, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	return newLogger(profile, ws)
}

func newLogger(profile string, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	var enc zapcore.Encoder
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	case ProfileConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid logging profile %q (want %s or %s)", profile, ProfileStructured, ProfileConsole)
	}
	return zap.New(zapcore.NewCore(enc, ws, level), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Sync flushes both loggers.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
