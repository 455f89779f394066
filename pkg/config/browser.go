package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/mend/pkg/driver"
)

// browserSettings is the storage form of the browser pool configuration.
type browserSettings struct {
	Headless           bool `json:"headless"`
	ViewportWidth      int  `json:"viewport_width"`
	ViewportHeight     int  `json:"viewport_height"`
	TimeoutMillis      int  `json:"timeout_ms"`
	MaxSessions        int  `json:"max_sessions"`
	IdleTimeoutSeconds int  `json:"idle_timeout_seconds"`
	Concurrency        int  `json:"concurrency"`
}

func defaultBrowserSettings() browserSettings {
	return browserSettings{
		Headless:           true,
		ViewportWidth:      driver.DefaultViewportWidth,
		ViewportHeight:     driver.DefaultViewportHeight,
		TimeoutMillis:      driver.DefaultTimeout,
		MaxSessions:        driver.DefaultMaxSessions,
		IdleTimeoutSeconds: driver.DefaultIdleTimeout,
		Concurrency:        3,
	}
}

// BrowserSection configures the browser session pool.
type BrowserSection struct {
	mu       sync.RWMutex
	settings browserSettings
}

// NewBrowserSection creates the section with default settings.
func NewBrowserSection() *BrowserSection {
	return &BrowserSection{settings: defaultBrowserSettings()}
}

func (s *BrowserSection) ID() string    { return "browser" }
func (s *BrowserSection) Title() string { return "Browser" }

func (s *BrowserSection) Description() string {
	return "Session pool sizing, viewport, and operation timeouts"
}

func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toMap(s.settings)
}

func (s *BrowserSection) SetData(data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := defaultBrowserSettings()
	if err := fromMap(data, &settings); err != nil {
		return err
	}
	s.settings = settings
	return nil
}

func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.ViewportWidth < 1 || s.settings.ViewportHeight < 1 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if s.settings.TimeoutMillis < 1 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	if s.settings.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1")
	}
	if s.settings.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}

func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = defaultBrowserSettings()
}

// SessionOptions returns the options every pooled session opens with.
func (s *BrowserSection) SessionOptions() driver.SessionOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return driver.SessionOptions{
		Headless: s.settings.Headless,
		Viewport: &driver.Viewport{
			Width:  s.settings.ViewportWidth,
			Height: s.settings.ViewportHeight,
		},
		Timeout: float64(s.settings.TimeoutMillis),
	}
}

// MaxSessions returns the pool session cap.
func (s *BrowserSection) MaxSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.MaxSessions
}

// IdleTimeout returns how long an idle session survives before cleanup.
func (s *BrowserSection) IdleTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.settings.IdleTimeoutSeconds) * time.Second
}

// Concurrency returns how many tasks may run at once.
func (s *BrowserSection) Concurrency() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Concurrency
}
