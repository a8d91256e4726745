// Package audit records guard decisions as structured JSON logs. Stdout is
// the hook protocol channel, so logs go to a file (or stderr as a fallback).
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/boshu2/agentops-guard/internal/guard"
	"github.com/boshu2/agentops-guard/internal/marker"
)

// Off disables logging when used as the log file.
const Off = "off"

// ParseLevel maps a config level name to a zap level. Unknown names are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a JSON logger appending to file. An empty file or "off" returns
// a no-op logger. When file cannot be opened the logger writes to stderr and
// the open error is returned alongside it.
func New(file, level string) (*zap.Logger, error) {
	if file == "" || file == Off {
		return zap.NewNop(), nil
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(level)),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{file},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var openErr error
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		openErr = err
	} else if logger, err := cfg.Build(); err == nil {
		return logger, nil
	} else {
		openErr = err
	}

	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop(), fmt.Errorf("build logger: %w", err)
	}
	return logger, fmt.Errorf("open log file %s: %w", file, openErr)
}

// Invocation tags every log line of one hook run.
type Invocation struct {
	ID     string
	Start  time.Time
	Logger *zap.Logger
}

// Begin starts an invocation with a fresh id.
func Begin(logger *zap.Logger, now time.Time) *Invocation {
	id := uuid.NewString()
	return &Invocation{
		ID:     id,
		Start:  now,
		Logger: logger.With(zap.String("invocation_id", id)),
	}
}

// Record logs the decision for req. Internal safety errors log at error,
// other denies at warn, everything else at info.
func (inv *Invocation) Record(req guard.Request, out guard.Outcome, now time.Time) {
	d := out.Decision
	fields := []zap.Field{
		zap.String("tool", req.Tool),
		zap.String("decision", d.Kind.String()),
		zap.String("check", d.Check),
		zap.String("session", req.SessionID),
		zap.Duration("latency", now.Sub(inv.Start)),
	}
	if req.ProjectRoot != "" {
		fields = append(fields, zap.String("project_hash", marker.ProjectHash(req.ProjectRoot)))
	}
	if d.Reason != "" {
		fields = append(fields, zap.String("reason", d.Reason))
	}
	if d.Kind == guard.Rewrite {
		fields = append(fields, zap.String("rewrite", d.Command))
	}
	if req.SubagentType != "" {
		fields = append(fields, zap.String("subagent_type", req.SubagentType))
	}
	if out.Invalidated {
		fields = append(fields, zap.Bool("proof_invalidated", true))
	}

	switch {
	case d.Kind == guard.Deny && strings.HasPrefix(d.Reason, guard.InternalErrorPrefix):
		inv.Logger.Error("guard decision", fields...)
	case d.Kind == guard.Deny:
		inv.Logger.Warn("guard decision", fields...)
	default:
		inv.Logger.Info("guard decision", fields...)
	}
}
