// Package logging builds the process logger and names the structured fields
// every service attaches to its log lines.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Standardized field names for structured logging.
const (
	FieldOrgID         = "org_id"
	FieldAccountID     = "account_id"
	FieldSuggestionID  = "suggestion_id"
	FieldTransactionID = "transaction_id"
	FieldSessionID     = "session_id"
	FieldActor         = "actor"
	FieldShape         = "shape"
	FieldCount         = "count"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldReason        = "reason"
	FieldError         = "error"
)

// New creates a logrus logger. format is "json" or "text"; an unknown level
// falls back to info.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns a logger that drops everything.
func Discard() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
