// Package store persists extracted transactions in sqlite.
//
// The transactions table is keyed uniquely by source message id; inserts go
// through INSERT OR IGNORE so a second attempt for the same message id is a
// no-op rather than an overwrite, and the at-most-once guarantee holds at
// the storage layer even if callers ever write concurrently. Rows are never
// updated in place and only removed by the explicit bulk ClearAll.
//
// The maximum stored transaction date doubles as the poll cursor consumed by
// the tracker. Read-only List/Count queries serve the external dashboard.
package store
