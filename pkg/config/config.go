// Package config persists engine settings as named sections in a JSON file
// under ~/.mend/. Each section owns its typed settings; the manager moves
// them between their typed form and the store.
package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager := NewManager(store)

	sections := []Section{
		NewBrowserSection(),
		NewScorerSection(),
		NewHealingSection(),
		NewLLMSection(),
		NewOutcomeSection(),
	}
	for _, section := range sections {
		if err := manager.RegisterSection(section); err != nil {
			return err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// GetBrowser returns the browser section from global config.
// Returns nil if config is not initialized.
func GetBrowser() *BrowserSection {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection("browser")
	if !ok {
		return nil
	}
	browser, ok := section.(*BrowserSection)
	if !ok {
		return nil
	}
	return browser
}

// GetScorer returns the locator scoring section from global config.
// Returns nil if config is not initialized.
func GetScorer() *ScorerSection {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection("scorer")
	if !ok {
		return nil
	}
	scorer, ok := section.(*ScorerSection)
	if !ok {
		return nil
	}
	return scorer
}

// GetHealing returns the healing budget section from global config.
// Returns nil if config is not initialized.
func GetHealing() *HealingSection {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection("healing")
	if !ok {
		return nil
	}
	healing, ok := section.(*HealingSection)
	if !ok {
		return nil
	}
	return healing
}

// GetLLM returns the model service section from global config.
// Returns nil if config is not initialized.
func GetLLM() *LLMSection {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection("llm")
	if !ok {
		return nil
	}
	llm, ok := section.(*LLMSection)
	if !ok {
		return nil
	}
	return llm
}

// GetOutcome returns the outcome statistics section from global config.
// Returns nil if config is not initialized.
func GetOutcome() *OutcomeSection {
	if !IsInitialized() {
		return nil
	}
	section, ok := Global().GetSection("outcome")
	if !ok {
		return nil
	}
	outcome, ok := section.(*OutcomeSection)
	if !ok {
		return nil
	}
	return outcome
}
