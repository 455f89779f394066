package config

import (
	"fmt"
	"sync"
	"time"
)

// llmSettings is the storage form of the model service configuration. The
// API key is never stored here; it comes from the environment.
type llmSettings struct {
	Enabled        bool   `json:"enabled"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	ContextTokens  int    `json:"context_tokens"`
}

func defaultLLMSettings() llmSettings {
	return llmSettings{
		Enabled:        true,
		Model:          "gpt-4o",
		TimeoutSeconds: 30,
		ContextTokens:  4000,
	}
}

// LLMSection configures the model service behind the vision-assisted and
// code regeneration tiers.
type LLMSection struct {
	mu       sync.RWMutex
	settings llmSettings
}

// NewLLMSection creates the section with default settings.
func NewLLMSection() *LLMSection {
	return &LLMSection{settings: defaultLLMSettings()}
}

func (s *LLMSection) ID() string    { return "llm" }
func (s *LLMSection) Title() string { return "Model Service" }

func (s *LLMSection) Description() string {
	return "Model, endpoint, and prompt budget for model-backed recovery tiers"
}

func (s *LLMSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toMap(s.settings)
}

func (s *LLMSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := defaultLLMSettings()
	if err := fromMap(data, &settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if s.settings.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1")
	}
	if s.settings.ContextTokens < 0 {
		return fmt.Errorf("context_tokens cannot be negative")
	}
	return nil
}

func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = defaultLLMSettings()
}

// Enabled reports whether model-backed tiers should be wired at all.
func (s *LLMSection) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Enabled
}

// Model returns the configured model name.
func (s *LLMSection) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Model
}

// BaseURL returns the configured endpoint override ("" for the default).
func (s *LLMSection) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.BaseURL
}

// Timeout returns the per-call timeout.
func (s *LLMSection) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.settings.TimeoutSeconds) * time.Second
}

// ContextTokens returns the page context token budget.
func (s *LLMSection) ContextTokens() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.ContextTokens
}
