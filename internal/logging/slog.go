package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyCycleID   = "cycle_id"
	KeyMessageID = "message_id"
	KeyThreadID  = "thread_id"
	KeyStage     = "stage"
	KeyAttempt   = "attempt"
	KeyStatus    = "status"
	KeyError     = "error"
	KeySender    = "sender_hash"
	KeyWindow    = "window"
)

// Stage values used by the two analyzer stages.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Setup installs a slog default logger writing to w. Format is "text" or
// "json"; level is one of debug, info, warn, error (anything else means info).
func Setup(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithCycle returns a logger with the poll-cycle id attribute set.
func WithCycle(logger *slog.Logger, cycleID string) *slog.Logger {
	return logger.With(slog.String(KeyCycleID, cycleID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// MessageID returns a slog attribute for a provider message id.
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// ThreadID returns a slog attribute for a provider thread id.
func ThreadID(id string) slog.Attr {
	return slog.String(KeyThreadID, id)
}

// Stage returns a slog attribute for an analyzer stage name.
func Stage(stage string) slog.Attr {
	return slog.String(KeyStage, stage)
}

// Attempt returns a slog attribute for a retry attempt number (1-based).
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Window returns a slog attribute describing a poll window.
func Window(start, end time.Time) slog.Attr {
	return slog.String(KeyWindow, start.Format(time.RFC3339)+".."+end.Format(time.RFC3339))
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from
// output, so Err(maybeNilErr) is always safe to pass.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email address for
// logging purposes. This allows correlation of log entries without exposing
// PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "addr:" + hex.EncodeToString(hash[:8])
}

// Sender returns a slog attribute with the anonymized sender address.
func Sender(email string) slog.Attr {
	return slog.String(KeySender, AnonymizeEmail(email))
}

// ExtractDomain extracts the domain part from an email address. Useful for
// lower-cardinality logging where the full address would create too many
// unique values.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Domain returns a slog attribute for the sender's domain.
func Domain(email string) slog.Attr {
	return slog.String("sender_domain", ExtractDomain(email))
}
