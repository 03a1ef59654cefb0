// Package cmd implements the command-line interface for mailledger.
//
// This package provides the following commands:
//   - track: Run the long-lived polling daemon that ingests and analyzes mail
//   - backfill: Run a single pipeline pass over an explicit time window
//   - list: Print stored transactions
//   - clear: Delete all stored transactions
//   - version: Display version information
//
// The track command is the default command when no subcommand is specified.
package cmd
