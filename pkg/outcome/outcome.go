// Package outcome records which locator strategies and healing tiers succeed
// or fail, and feeds those statistics back into locator scoring as a bounded,
// advisory weighting.
//
// Recording is fire-and-forget: a buffered channel and a single writer
// goroutine keep the hot path of step execution from ever blocking on the
// persistence store. Aggregates are optionally scoped per site using glob
// patterns, so a strategy that works well on one site does not bias scoring
// on another.
package outcome

import (
	"time"

	"github.com/entrhq/mend/pkg/locator"
)

// Record is one persisted fact about a strategy attempt. Records are
// append-only; they are never updated or deleted.
type Record struct {
	// Strategy is the locator strategy that was tried
	Strategy locator.Kind `json:"strategy"`

	// Tier names the healing tier the attempt ran under
	Tier string `json:"tier"`

	// Success reports whether the attempt worked
	Success bool `json:"success"`

	// Site optionally scopes the record to a host ("" for unscoped)
	Site string `json:"site,omitempty"`

	// Timestamp is when the attempt finished
	Timestamp time.Time `json:"timestamp"`
}

// Store persists outcome records. Implementations must tolerate concurrent
// Append calls from the recorder's writer goroutine and Aggregate at open.
type Store interface {
	// Append persists one record
	Append(record Record) error

	// Aggregate returns success/failure counts keyed by strategy and site,
	// used to warm the recorder's in-memory counters at startup
	Aggregate() (map[AggregateKey]Counts, error)

	// Close releases the store
	Close() error
}

// AggregateKey identifies one counter bucket.
type AggregateKey struct {
	Strategy locator.Kind
	Scope    string
}

// Counts is a success/failure tally.
type Counts struct {
	Successes int
	Failures  int
}

// Total returns the number of recorded attempts.
func (c Counts) Total() int {
	return c.Successes + c.Failures
}
