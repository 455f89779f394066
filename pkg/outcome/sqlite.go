package outcome

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/entrhq/mend/pkg/locator"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcome_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy   TEXT NOT NULL,
	tier       TEXT NOT NULL,
	success    INTEGER NOT NULL,
	site       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcome_strategy ON outcome_records (strategy, site);
`

// SQLiteStore persists outcome records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome store: %w", err)
	}

	// The store has exactly one writer (the recorder's drain goroutine);
	// a single connection avoids SQLite write contention entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create outcome schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append persists one record.
func (s *SQLiteStore) Append(record Record) error {
	_, err := s.db.Exec(
		`INSERT INTO outcome_records (strategy, tier, success, site, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(record.Strategy), record.Tier, boolToInt(record.Success), record.Site, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append outcome record: %w", err)
	}
	return nil
}

// Aggregate returns success/failure counts per strategy, overall and per
// distinct site. Site buckets are keyed by the raw site value; the recorder
// maps them onto its configured scopes.
func (s *SQLiteStore) Aggregate() (map[AggregateKey]Counts, error) {
	rows, err := s.db.Query(`
		SELECT strategy, site, SUM(success), COUNT(*) - SUM(success)
		FROM outcome_records
		GROUP BY strategy, site`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[AggregateKey]Counts)
	for rows.Next() {
		var strategy, site string
		var successes, failures int
		if err := rows.Scan(&strategy, &site, &successes, &failures); err != nil {
			return nil, fmt.Errorf("failed to scan outcome aggregate: %w", err)
		}

		kind := locator.Kind(strategy)
		// Every record contributes to the unscoped bucket; site buckets
		// are kept separately for scope matching.
		unscoped := counts[AggregateKey{Strategy: kind}]
		unscoped.Successes += successes
		unscoped.Failures += failures
		counts[AggregateKey{Strategy: kind}] = unscoped

		if site != "" {
			scoped := counts[AggregateKey{Strategy: kind, Scope: site}]
			scoped.Successes += successes
			scoped.Failures += failures
			counts[AggregateKey{Strategy: kind, Scope: site}] = scoped
		}
	}
	return counts, rows.Err()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
