// Package thread reconstructs logical conversations from the flat,
// paginated message lists returned by the mail provider.
//
// The aggregator is a keyed accumulator: one Conversation per thread id,
// seeded by the first message seen for that thread and folded with every
// subsequent one. Folding unions sender and recipient sets (with Reply-To
// taking precedence over From), appends bodies behind a visible separator,
// dedups attachment descriptors, ANDs read flags and keeps the maximum
// timestamp. A malformed message is logged and skipped without aborting the
// batch.
//
// Conversations are mutated only during aggregation; once handed to the
// analyzer they are read-only.
package thread
