// Package gmail provides the mail provider client used by the ingestion
// pipeline.
//
// It wraps the Gmail API behind a narrow surface: a windowed, internally
// paginated message fetch that yields immutable RawMessage values, and a
// best-effort attachment download. Credential acquisition and refresh are
// handled here (installed-app OAuth flow with a cached token file) so that
// no other package needs to know how the provider authenticates.
//
// Header-derived fields are extracted best-effort: a message whose Date
// header cannot be parsed is still returned, with a zero SentAt, and it is
// the aggregator's policy to skip it. Body extraction walks the MIME tree
// preferring text/plain and falling back to raw text/html bytes.
package gmail
