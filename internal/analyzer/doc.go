// Package analyzer turns aggregated conversations into transaction records
// using a two stage oracle pipeline: a classification stage decides whether
// a conversation is transactional, and an extraction stage pulls out the
// structured transaction fields. Both stages run under a bounded fixed-delay
// retry policy; a conversation that exhausts its retries is skipped, never
// fatal.
package analyzer
