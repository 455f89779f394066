package config

import (
	"fmt"
	"sync"

	"github.com/entrhq/mend/pkg/locator"
)

// ScorerSection configures locator scoring. The base scores and bonuses are
// stored directly; locator.Config already carries storage-form tags.
type ScorerSection struct {
	mu  sync.RWMutex
	cfg locator.Config
}

// NewScorerSection creates the section with the default scoring parameters.
func NewScorerSection() *ScorerSection {
	return &ScorerSection{cfg: locator.DefaultConfig()}
}

func (s *ScorerSection) ID() string    { return "scorer" }
func (s *ScorerSection) Title() string { return "Locator Scoring" }

func (s *ScorerSection) Description() string {
	return "Base scores, bonuses, and the confidence threshold for locator candidates"
}

func (s *ScorerSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toMap(s.cfg)
}

func (s *ScorerSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := locator.DefaultConfig()
	if err := fromMap(data, &cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *ScorerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bases := map[string]float64{
		"exact_text_base":   s.cfg.ExactTextBase,
		"partial_text_base": s.cfg.PartialTextBase,
		"aria_label_base":   s.cfg.AriaLabelBase,
		"placeholder_base":  s.cfg.PlaceholderBase,
		"threshold":         s.cfg.Threshold,
	}
	for name, v := range bases {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if s.cfg.ShallowDepthLimit < 0 {
		return fmt.Errorf("shallow_depth_limit cannot be negative")
	}
	return nil
}

func (s *ScorerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = locator.DefaultConfig()
}

// Config returns the configured scoring parameters.
func (s *ScorerSection) Config() locator.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
