package outcome

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/mend/pkg/locator"
)

// memStore is an in-memory Store for recorder tests.
type memStore struct {
	mu      sync.Mutex
	records []Record
	warm    map[AggregateKey]Counts
	closed  bool
}

func (s *memStore) Append(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *memStore) Aggregate() (map[AggregateKey]Counts, error) {
	if s.warm == nil {
		return map[AggregateKey]Counts{}, nil
	}
	return s.warm, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func record(kind locator.Kind, success bool, site string) Record {
	return Record{
		Strategy:  kind,
		Tier:      "attempt_primary",
		Success:   success,
		Site:      site,
		Timestamp: time.Now(),
	}
}

func TestRecorder_NeutralWithoutHistory(t *testing.T) {
	r, err := NewRecorder(nil, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.InDelta(t, 1.0, r.Weighting(locator.KindText), 0.001)
}

func TestRecorder_WeightingBounds(t *testing.T) {
	r, err := NewRecorder(nil, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		r.Record(record(locator.KindText, true, ""))
		r.Record(record(locator.KindPlaceholder, false, ""))
	}
	require.NoError(t, r.Close())

	winner := r.Weighting(locator.KindText)
	loser := r.Weighting(locator.KindPlaceholder)

	assert.Greater(t, winner, 1.0)
	assert.LessOrEqual(t, winner, MaxWeighting)
	assert.Less(t, loser, 1.0)
	assert.GreaterOrEqual(t, loser, MinWeighting)
}

func TestRecorder_ForwardsToStore(t *testing.T) {
	store := &memStore{}
	r, err := NewRecorder(store, nil)
	require.NoError(t, err)

	r.Record(record(locator.KindRole, true, "example.com"))
	r.Record(record(locator.KindRole, false, "example.com"))
	require.NoError(t, r.Close())

	assert.Equal(t, 2, store.count())
	assert.True(t, store.closed)
}

func TestRecorder_SiteScopedWeighting(t *testing.T) {
	r, err := NewRecorder(nil, map[string]string{
		"shop": "*.shop.example.com",
	})
	require.NoError(t, err)

	// Text does badly on the shop sites but well elsewhere
	for i := 0; i < 20; i++ {
		r.Record(record(locator.KindText, false, "www.shop.example.com"))
		r.Record(record(locator.KindText, true, "docs.example.org"))
	}
	require.NoError(t, r.Close())

	shopWeight := r.WeightingForSite(locator.KindText, "www.shop.example.com")
	otherWeight := r.WeightingForSite(locator.KindText, "docs.example.org")

	assert.Less(t, shopWeight, 1.0)
	// docs.example.org matches no scope: falls back to the overall counters,
	// which are an even split
	assert.InDelta(t, 1.0, otherWeight, 0.05)
}

func TestRecorder_InvalidPattern(t *testing.T) {
	_, err := NewRecorder(nil, map[string]string{"bad": "[unterminated"})
	assert.Error(t, err)
}

func TestRecorder_WarmStartFromStore(t *testing.T) {
	store := &memStore{warm: map[AggregateKey]Counts{
		{Strategy: locator.KindAriaLabel}: {Successes: 50, Failures: 0},
	}}
	r, err := NewRecorder(store, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Greater(t, r.Weighting(locator.KindAriaLabel), 1.1)
}

func TestRecorder_RecordAfterCloseIsNoop(t *testing.T) {
	store := &memStore{}
	r, err := NewRecorder(store, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r.Record(record(locator.KindText, true, ""))
	assert.Equal(t, 0, store.count())
}

func TestRecorder_ConcurrentRecordAndRead(t *testing.T) {
	r, err := NewRecorder(nil, nil)
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record(record(locator.KindText, n%2 == 0, ""))
				_ = r.Weighting(locator.KindText)
			}
		}(i)
	}
	wg.Wait()

	w := r.Weighting(locator.KindText)
	assert.GreaterOrEqual(t, w, MinWeighting)
	assert.LessOrEqual(t, w, MaxWeighting)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := t.TempDir() + "/outcomes.db"
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Append(Record{
		Strategy: locator.KindText, Tier: "rescore_structural", Success: true,
		Site: "example.com", Timestamp: now,
	}))
	require.NoError(t, store.Append(Record{
		Strategy: locator.KindText, Tier: "rescore_structural", Success: false,
		Site: "example.com", Timestamp: now,
	}))
	require.NoError(t, store.Append(Record{
		Strategy: locator.KindRole, Tier: "attempt_primary", Success: true,
		Timestamp: now,
	}))
	require.NoError(t, store.Close())

	// Reopen and aggregate
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	counts, err := reopened.Aggregate()
	require.NoError(t, err)

	text := counts[AggregateKey{Strategy: locator.KindText}]
	assert.Equal(t, 1, text.Successes)
	assert.Equal(t, 1, text.Failures)

	scoped := counts[AggregateKey{Strategy: locator.KindText, Scope: "example.com"}]
	assert.Equal(t, 2, scoped.Total())

	role := counts[AggregateKey{Strategy: locator.KindRole}]
	assert.Equal(t, 1, role.Successes)
	assert.Equal(t, 0, role.Failures)
}
