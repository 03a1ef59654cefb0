// Package tracker drives the ingestion pipeline: it computes incremental
// fetch windows from persisted state, fetches and aggregates mailbox
// messages, runs the two stage analysis, and persists extracted
// transactions. A supervisor loop repeats this on a fixed interval and
// survives failed cycles with a shorter retry delay.
package tracker
