// Package task models automation tasks as ordered step sequences and runs
// them through the healing engine, one exclusive browser session per task.
package task

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/mend/pkg/healing"
	"github.com/entrhq/mend/pkg/step"
)

// Task is one automation run: an ordered list of steps executed against a
// single browser session. Steps run strictly in order; a terminal step
// failure aborts the remainder.
type Task struct {
	// ID uniquely identifies the task
	ID string `json:"id"`

	// Name is the human-readable task name
	Name string `json:"name"`

	// URL is an optional start URL; when set, navigation to it is implied
	// by the first step's page context rather than performed automatically
	URL string `json:"url,omitempty"`

	// Site is the hostname scope for outcome statistics; derived from URL
	// when empty
	Site string `json:"site,omitempty"`

	// Steps are the ordered actions of the task
	Steps []*step.Step `json:"steps"`

	// Budget bounds recovery work per step; the zero value means the
	// engine default applies
	Budget healing.Budget `json:"budget,omitempty"`
}

// New creates a task with a fresh identifier.
func New(name string, steps ...*step.Step) *Task {
	return &Task{
		ID:    uuid.NewString(),
		Name:  name,
		Steps: steps,
	}
}

// Validate checks the task and normalizes it: missing identifiers are
// assigned and steps are numbered in order.
func (t *Task) Validate() error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("task %q has no steps", t.Name)
	}
	for i, s := range t.Steps {
		s.Number = i + 1
		if err := s.Validate(); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	return nil
}

// fileSchema is the YAML task file layout.
type fileSchema struct {
	Tasks []taskYAML `yaml:"tasks"`
}

type taskYAML struct {
	Name   string      `yaml:"name"`
	URL    string      `yaml:"url"`
	Site   string      `yaml:"site"`
	Budget *budgetYAML `yaml:"budget"`
	Steps  []step.Step `yaml:"steps"`
}

// budgetYAML carries the budget in plain units so task files stay free of
// duration syntax.
type budgetYAML struct {
	MaxTotalAttempts     int `yaml:"max_total_attempts"`
	MaxStructuralRetries int `yaml:"max_structural_retries"`
	MaxCatalogMatches    int `yaml:"max_catalog_matches"`
	ManualTimeoutSeconds int `yaml:"manual_timeout_seconds"`
	RetryDelayMillis     int `yaml:"retry_delay_ms"`
}

// toBudget overlays the set fields onto the default budget.
func (b *budgetYAML) toBudget() healing.Budget {
	budget := healing.DefaultBudget()
	if b.MaxTotalAttempts > 0 {
		budget.MaxTotalAttempts = b.MaxTotalAttempts
	}
	if b.MaxStructuralRetries > 0 {
		budget.MaxStructuralRetries = b.MaxStructuralRetries
	}
	if b.MaxCatalogMatches > 0 {
		budget.MaxCatalogMatches = b.MaxCatalogMatches
	}
	if b.ManualTimeoutSeconds > 0 {
		budget.ManualTimeout = time.Duration(b.ManualTimeoutSeconds) * time.Second
	}
	if b.RetryDelayMillis > 0 {
		budget.RetryDelay = time.Duration(b.RetryDelayMillis) * time.Millisecond
	}
	return budget
}

// LoadFile reads a YAML task file and returns validated tasks.
func LoadFile(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML task definitions.
func Parse(data []byte) ([]*Task, error) {
	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("task file defines no tasks")
	}

	tasks := make([]*Task, 0, len(file.Tasks))
	for _, raw := range file.Tasks {
		t := &Task{
			ID:   uuid.NewString(),
			Name: raw.Name,
			URL:  raw.URL,
			Site: raw.Site,
		}
		if raw.Budget != nil {
			t.Budget = raw.Budget.toBudget()
		}
		for i := range raw.Steps {
			s := raw.Steps[i]
			t.Steps = append(t.Steps, &s)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
