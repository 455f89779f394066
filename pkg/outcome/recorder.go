package outcome

import (
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"

	"github.com/entrhq/mend/pkg/locator"
)

// Weighting bounds. The multiplier is advisory: it biases close candidates
// but can never invert a strong match below a distant fallback.
const (
	// MinWeighting is the multiplier for a strategy that always fails
	MinWeighting = 0.8

	// MaxWeighting is the multiplier for a strategy that always succeeds
	MaxWeighting = 1.2

	// defaultBuffer is the record channel capacity
	defaultBuffer = 256
)

// Recorder aggregates outcome records and serves weighting multipliers.
//
// Record never blocks: when the buffer is full the record is dropped and
// counted, because losing a statistic is preferable to stalling a step.
// Recorder implements locator.Weighter.
type Recorder struct {
	store Store

	mu     sync.RWMutex
	counts map[AggregateKey]Counts
	closed bool

	dropped  atomic.Int64
	scopes   []scopePattern
	incoming chan Record
	done     chan struct{}
	once     sync.Once
}

// scopePattern maps a site glob onto a named counter scope.
type scopePattern struct {
	name    string
	matcher glob.Glob
}

// NewRecorder creates a recorder backed by the given store. The store may be
// nil for purely in-memory statistics. sitePatterns maps scope names to glob
// patterns over hostnames (e.g. "shop" -> "*.shop.example.com"); records
// whose site matches a pattern are additionally counted under that scope.
//
// Existing aggregates are loaded from the store to warm the counters, then a
// writer goroutine drains the record buffer until Close is called.
func NewRecorder(store Store, sitePatterns map[string]string) (*Recorder, error) {
	r := &Recorder{
		store:    store,
		counts:   make(map[AggregateKey]Counts),
		incoming: make(chan Record, defaultBuffer),
		done:     make(chan struct{}),
	}

	for name, pattern := range sitePatterns {
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		r.scopes = append(r.scopes, scopePattern{name: name, matcher: matcher})
	}

	if store != nil {
		existing, err := store.Aggregate()
		if err != nil {
			return nil, err
		}
		// Stores bucket by raw site; fold those buckets into the
		// configured scopes. Unscoped buckets carry over directly.
		for key, counts := range existing {
			if key.Scope == "" {
				r.counts[key] = counts
				continue
			}
			scope := r.scopeFor(key.Scope)
			if scope == "" {
				continue
			}
			merged := r.counts[AggregateKey{Strategy: key.Strategy, Scope: scope}]
			merged.Successes += counts.Successes
			merged.Failures += counts.Failures
			r.counts[AggregateKey{Strategy: key.Strategy, Scope: scope}] = merged
		}
	}

	go r.drain()
	return r, nil
}

// Record enqueues one record without blocking. Records arriving after Close
// or into a full buffer are dropped.
func (r *Recorder) Record(record Record) {
	// The read lock guarantees the channel cannot be closed mid-send:
	// Close takes the write lock before closing it.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.incoming <- record:
	default:
		r.dropped.Add(1)
	}
}

// Weighting returns the multiplier for a strategy across all sites.
// Implements locator.Weighter.
func (r *Recorder) Weighting(kind locator.Kind) float64 {
	return r.WeightingForSite(kind, "")
}

// WeightingForSite returns the multiplier for a strategy, preferring the
// counters of the scope the site falls into. An unknown site or a scope with
// no history falls back to the unscoped counters.
func (r *Recorder) WeightingForSite(kind locator.Kind, site string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if scope := r.scopeFor(site); scope != "" {
		if counts, ok := r.counts[AggregateKey{Strategy: kind, Scope: scope}]; ok && counts.Total() > 0 {
			return multiplier(counts)
		}
	}
	return multiplier(r.counts[AggregateKey{Strategy: kind}])
}

// Dropped returns the number of records lost to buffer overflow.
func (r *Recorder) Dropped() int {
	return int(r.dropped.Load())
}

// Counts returns a copy of the counter bucket for a strategy and scope.
func (r *Recorder) Counts(kind locator.Kind, scope string) Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[AggregateKey{Strategy: kind, Scope: scope}]
}

// Close stops the writer goroutine after draining buffered records, then
// closes the store.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.incoming)
		<-r.done
	})
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// drain is the single writer: it applies each record to the counters and
// forwards it to the store.
func (r *Recorder) drain() {
	defer close(r.done)
	for record := range r.incoming {
		r.apply(record)
		if r.store != nil {
			// Store errors only lose one statistic; they must not stop
			// the drain loop
			_ = r.store.Append(record)
		}
	}
}

// apply updates the unscoped counter and, when the site matches a configured
// scope, the scoped counter too.
func (r *Recorder) apply(record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bump := func(key AggregateKey) {
		counts := r.counts[key]
		if record.Success {
			counts.Successes++
		} else {
			counts.Failures++
		}
		r.counts[key] = counts
	}

	bump(AggregateKey{Strategy: record.Strategy})
	if scope := r.scopeFor(record.Site); scope != "" {
		bump(AggregateKey{Strategy: record.Strategy, Scope: scope})
	}
}

// scopeFor returns the name of the first scope whose pattern matches the
// site, or "" when none match. Callers must hold at least a read lock.
func (r *Recorder) scopeFor(site string) string {
	if site == "" {
		return ""
	}
	for _, scope := range r.scopes {
		if scope.matcher.Match(site) {
			return scope.name
		}
	}
	return ""
}

// multiplier maps a tally onto [MinWeighting, MaxWeighting] using a
// Laplace-smoothed success rate, so sparse history stays near neutral.
func multiplier(counts Counts) float64 {
	rate := float64(counts.Successes+1) / float64(counts.Total()+2)
	return MinWeighting + (MaxWeighting-MinWeighting)*rate
}
