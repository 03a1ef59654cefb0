// Package logging provides structured logging helpers for the mailledger
// pipeline, built on log/slog.
//
// It defines canonical attribute keys (operation, message_id, thread_id,
// cycle_id, stage, ...) so log entries emitted by the gmail client, the
// thread aggregator, the analyzer stages and the tracker can be correlated,
// plus attr-constructor helpers to keep call sites terse.
//
// Sender addresses are PII; AnonymizeEmail hashes them so a conversation can
// still be followed across log lines without exposing the address itself.
package logging
