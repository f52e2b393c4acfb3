// Package log provides structured logging utilities for the JEFE COIN coordinator.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if reqID := ctx.Value("request_id"); reqID != nil {
		logger = logger.With("request_id", reqID)
	}

	return &Logger{
		Logger:  logger,
		service: l.service,
		version: l.version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithAccount returns a logger with account-specific fields
func (l *Logger) WithAccount(name string) *Logger {
	return l.WithFields("account", name)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, difficulty int) *Logger {
	return l.WithFields("job_id", jobID, "difficulty", difficulty)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Economy logging helpers

// LogClaim logs the outcome of a work-claim submission
func (l *Logger) LogClaim(account, jobID, challenge, result string) {
	l.Info("claim processed",
		"account", account,
		"job_id", jobID,
		"challenge", challenge,
		"result", result,
	)
}

// LogJobCreated logs a new group job entering the pool
func (l *Logger) LogJobCreated(jobID string, size, difficulty int, rewardPerUnit float64) {
	l.Info("job created",
		"job_id", jobID,
		"size", size,
		"difficulty", difficulty,
		"reward_per_unit", rewardPerUnit,
	)
}

// LogJobRetired logs a job leaving the pool
func (l *Logger) LogJobRetired(jobID, status string, contributors int) {
	l.Info("job retired",
		"job_id", jobID,
		"status", status,
		"contributors", contributors,
	)
}

// LogBonusPayout logs one contributor's share of a completion bonus
func (l *Logger) LogBonusPayout(jobID, account string, units int, share float64) {
	l.Info("bonus paid",
		"job_id", jobID,
		"account", account,
		"units", units,
		"share", share,
	)
}

// LogTransfer logs a completed transfer between accounts
func (l *Logger) LogTransfer(from, to string, amount float64) {
	l.Info("transfer completed",
		"from", from,
		"to", to,
		"amount", amount,
	)
}

// LogSync logs an offline proof batch reconciliation
func (l *Logger) LogSync(account string, valid, total int, credited float64) {
	l.Info("offline proofs synced",
		"account", account,
		"valid_proofs", valid,
		"total_proofs", total,
		"credited", credited,
	)
}
