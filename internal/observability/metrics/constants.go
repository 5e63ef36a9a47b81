// Package metrics provides Prometheus collectors for the reader study service.
package metrics

// Histogram bucket layout shared by the collectors in this package.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~16s range).
	BucketStart1ms = 0.001
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// Outcome label values for result submissions.
const (
	OutcomeRecorded = "recorded"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Entry label values for session entries.
const (
	EntryNew      = "new"
	EntryResume   = "resume"
	EntryComplete = "complete"
)
