package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/mend/pkg/healing"
)

// healingSettings is the storage form of the recovery budget. Durations are
// stored in plain units so the config file stays free of duration syntax.
type healingSettings struct {
	MaxTotalAttempts     int `json:"max_total_attempts"`
	MaxStructuralRetries int `json:"max_structural_retries"`
	MaxCatalogMatches    int `json:"max_catalog_matches"`
	ManualTimeoutSeconds int `json:"manual_timeout_seconds"`
	RetryDelayMillis     int `json:"retry_delay_ms"`
}

func defaultHealingSettings() healingSettings {
	budget := healing.DefaultBudget()
	return healingSettings{
		MaxTotalAttempts:     budget.MaxTotalAttempts,
		MaxStructuralRetries: budget.MaxStructuralRetries,
		MaxCatalogMatches:    budget.MaxCatalogMatches,
		ManualTimeoutSeconds: int(budget.ManualTimeout / time.Second),
		RetryDelayMillis:     int(budget.RetryDelay / time.Millisecond),
	}
}

// HealingSection configures the recovery budget applied to every task that
// does not carry its own.
type HealingSection struct {
	mu       sync.RWMutex
	settings healingSettings
}

// NewHealingSection creates the section with default settings.
func NewHealingSection() *HealingSection {
	return &HealingSection{settings: defaultHealingSettings()}
}

func (s *HealingSection) ID() string    { return "healing" }
func (s *HealingSection) Title() string { return "Healing" }

func (s *HealingSection) Description() string {
	return "Recovery budget: attempt caps per tier and timing bounds"
}

func (s *HealingSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toMap(s.settings)
}

func (s *HealingSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := defaultHealingSettings()
	if err := fromMap(data, &settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

func (s *HealingSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.MaxTotalAttempts < 1 {
		return fmt.Errorf("max_total_attempts must be at least 1")
	}
	if s.settings.MaxStructuralRetries < 0 || s.settings.MaxCatalogMatches < 0 {
		return fmt.Errorf("per-tier caps cannot be negative")
	}
	if s.settings.ManualTimeoutSeconds < 1 {
		return fmt.Errorf("manual_timeout_seconds must be at least 1")
	}
	return nil
}

func (s *HealingSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = defaultHealingSettings()
}

// Budget returns the configured recovery budget.
func (s *HealingSection) Budget() healing.Budget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return healing.Budget{
		MaxTotalAttempts:     s.settings.MaxTotalAttempts,
		MaxStructuralRetries: s.settings.MaxStructuralRetries,
		MaxCatalogMatches:    s.settings.MaxCatalogMatches,
		ManualTimeout:        time.Duration(s.settings.ManualTimeoutSeconds) * time.Second,
		RetryDelay:           time.Duration(s.settings.RetryDelayMillis) * time.Millisecond,
	}
}
