package config

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// outcomeSettings is the storage form of outcome statistics configuration.
type outcomeSettings struct {
	Enabled      bool              `json:"enabled"`
	DatabasePath string            `json:"database_path"`
	SitePatterns map[string]string `json:"site_patterns,omitempty"`
}

func defaultOutcomeSettings() outcomeSettings {
	return outcomeSettings{Enabled: true}
}

// OutcomeSection configures outcome statistics: where records persist and
// which site scopes get their own counters.
type OutcomeSection struct {
	mu       sync.RWMutex
	settings outcomeSettings
}

// NewOutcomeSection creates the section with default settings.
func NewOutcomeSection() *OutcomeSection {
	return &OutcomeSection{settings: defaultOutcomeSettings()}
}

func (s *OutcomeSection) ID() string    { return "outcome" }
func (s *OutcomeSection) Title() string { return "Outcome Statistics" }

func (s *OutcomeSection) Description() string {
	return "Persistence and site scoping for locator strategy statistics"
}

func (s *OutcomeSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toMap(s.settings)
}

func (s *OutcomeSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := defaultOutcomeSettings()
	if err := fromMap(data, &settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

func (s *OutcomeSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, pattern := range s.settings.SitePatterns {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("site pattern %q (%s) is invalid: %w", pattern, name, err)
		}
	}
	return nil
}

func (s *OutcomeSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = defaultOutcomeSettings()
}

// Enabled reports whether outcome statistics should be collected.
func (s *OutcomeSection) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Enabled
}

// DatabasePath returns the SQLite path ("" for in-memory statistics only).
func (s *OutcomeSection) DatabasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.DatabasePath
}

// SitePatterns returns a copy of the configured scope patterns.
func (s *OutcomeSection) SitePatterns() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patterns := make(map[string]string, len(s.settings.SitePatterns))
	for name, pattern := range s.settings.SitePatterns {
		patterns[name] = pattern
	}
	return patterns
}
