package config

import (
	"testing"
	"time"
)

func TestHealingSection_Defaults(t *testing.T) {
	section := NewHealingSection()

	budget := section.Budget()
	if budget.MaxTotalAttempts != 10 {
		t.Errorf("Expected default max attempts 10, got %d", budget.MaxTotalAttempts)
	}
	if budget.ManualTimeout != 5*time.Minute {
		t.Errorf("Expected default manual timeout 5m, got %v", budget.ManualTimeout)
	}
}

func TestHealingSection_SetData(t *testing.T) {
	section := NewHealingSection()

	err := section.SetData(map[string]interface{}{
		"max_total_attempts":     float64(5),
		"manual_timeout_seconds": float64(60),
	})
	if err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	budget := section.Budget()
	if budget.MaxTotalAttempts != 5 {
		t.Errorf("Expected max attempts 5, got %d", budget.MaxTotalAttempts)
	}
	if budget.ManualTimeout != time.Minute {
		t.Errorf("Expected manual timeout 1m, got %v", budget.ManualTimeout)
	}
	// Unset keys keep their defaults
	if budget.MaxStructuralRetries != 3 {
		t.Errorf("Expected default structural retries 3, got %d", budget.MaxStructuralRetries)
	}
}

func TestHealingSection_Validate(t *testing.T) {
	section := NewHealingSection()
	if err := section.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}

	section.SetData(map[string]interface{}{"max_total_attempts": float64(0)})
	if err := section.Validate(); err == nil {
		t.Error("Expected error for zero attempt budget")
	}

	section.Reset()
	if err := section.Validate(); err != nil {
		t.Errorf("Reset section should validate: %v", err)
	}
}

func TestScorerSection_RoundTrip(t *testing.T) {
	section := NewScorerSection()

	data := section.Data()
	if data["exact_text_base"] != 0.95 {
		t.Errorf("Expected exact text base 0.95, got %v", data["exact_text_base"])
	}

	if err := section.SetData(map[string]interface{}{"threshold": 0.9}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if cfg := section.Config(); cfg.Threshold != 0.9 {
		t.Errorf("Expected threshold 0.9, got %v", cfg.Threshold)
	}
}

func TestScorerSection_ValidateRejectsOutOfRange(t *testing.T) {
	section := NewScorerSection()
	section.SetData(map[string]interface{}{"exact_text_base": 1.5})

	if err := section.Validate(); err == nil {
		t.Error("Expected error for base score above 1")
	}
}

func TestLLMSection_Defaults(t *testing.T) {
	section := NewLLMSection()

	if !section.Enabled() {
		t.Error("Expected LLM enabled by default")
	}
	if section.Model() != "gpt-4o" {
		t.Errorf("Unexpected default model %q", section.Model())
	}
	if section.Timeout() != 30*time.Second {
		t.Errorf("Unexpected default timeout %v", section.Timeout())
	}
}

func TestLLMSection_Validate(t *testing.T) {
	section := NewLLMSection()
	section.SetData(map[string]interface{}{"model": ""})

	if err := section.Validate(); err == nil {
		t.Error("Expected error for empty model")
	}
}

func TestOutcomeSection_SitePatterns(t *testing.T) {
	section := NewOutcomeSection()

	err := section.SetData(map[string]interface{}{
		"site_patterns": map[string]interface{}{"shop": "*.shop.example.com"},
	})
	if err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if err := section.Validate(); err != nil {
		t.Errorf("Valid pattern should validate: %v", err)
	}

	patterns := section.SitePatterns()
	if patterns["shop"] != "*.shop.example.com" {
		t.Errorf("Unexpected patterns %v", patterns)
	}

	section.SetData(map[string]interface{}{
		"site_patterns": map[string]interface{}{"bad": "[invalid"},
	})
	if err := section.Validate(); err == nil {
		t.Error("Expected error for invalid glob pattern")
	}
}

func TestBrowserSection_SessionOptions(t *testing.T) {
	section := NewBrowserSection()

	opts := section.SessionOptions()
	if !opts.Headless {
		t.Error("Expected headless by default")
	}
	if opts.Viewport == nil || opts.Viewport.Width != 1280 || opts.Viewport.Height != 720 {
		t.Errorf("Unexpected default viewport %+v", opts.Viewport)
	}
	if opts.Timeout != 30000 {
		t.Errorf("Unexpected default timeout %v", opts.Timeout)
	}
}

func TestBrowserSection_Validate(t *testing.T) {
	section := NewBrowserSection()
	section.SetData(map[string]interface{}{"max_sessions": float64(0)})

	if err := section.Validate(); err == nil {
		t.Error("Expected error for zero max sessions")
	}
}

func TestInitialize_RegistersAllSections(t *testing.T) {
	configPath := t.TempDir() + "/config.json"

	if err := Initialize(configPath); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		globalMu.Lock()
		globalManager = nil
		globalMu.Unlock()
	}()

	for _, id := range []string{"browser", "scorer", "healing", "llm", "outcome"} {
		if _, ok := Global().GetSection(id); !ok {
			t.Errorf("Section %q not registered", id)
		}
	}

	if GetHealing() == nil || GetScorer() == nil || GetLLM() == nil || GetOutcome() == nil || GetBrowser() == nil {
		t.Error("Typed accessors should return sections after Initialize")
	}
}
