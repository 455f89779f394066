// Package step models the individual actions of an automation task and
// executes them against the browser driver.
//
// Execution failures are data, not errors: the runner wraps every driver
// failure into a typed Failure so the healing orchestrator can inspect its
// kind and pick a recovery path. Only the orchestrator decides whether a
// failed step is retried, healed, or abandoned.
package step

import (
	"fmt"
)

// ActionKind identifies what a step does.
type ActionKind string

const (
	// ActionNavigate loads a URL; the URL is carried in Step.Value
	ActionNavigate ActionKind = "navigate"

	// ActionClick clicks the element described by Step.Target
	ActionClick ActionKind = "click"

	// ActionFill fills the element described by Step.Target with Step.Value
	ActionFill ActionKind = "fill"

	// ActionExtract reads the text content of the element described by Step.Target
	ActionExtract ActionKind = "extract"

	// ActionWait waits for the element described by Step.Target to be visible
	ActionWait ActionKind = "wait"

	// ActionScreenshot captures the viewport; no target
	ActionScreenshot ActionKind = "screenshot"

	// ActionNewTab opens a new tab; an optional URL is carried in Step.Value
	ActionNewTab ActionKind = "new_tab"

	// ActionSwitchTab switches to the tab index carried in Step.Value
	ActionSwitchTab ActionKind = "switch_tab"
)

// HasTarget reports whether the action operates on a described element.
func (a ActionKind) HasTarget() bool {
	switch a {
	case ActionClick, ActionFill, ActionExtract, ActionWait:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a step.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusHealing  Status = "healing"
	StatusRetrying Status = "retrying"
)

// Terminal reports whether the status is final for the step.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Step is one action of a task. A step is owned by exactly one task and is
// mutated only by the runner and the healing orchestrator.
type Step struct {
	// Number is the 1-based position within the task
	Number int `json:"number" yaml:"-"`

	// Action is what the step does
	Action ActionKind `json:"action" yaml:"action"`

	// Target is the natural language description of the element the action
	// operates on. Empty for actions without a target.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Value carries action input: fill text, navigation URL, tab index
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Fragment is the generated code fragment this step replays, for tasks
	// driven by generated scripts. Empty for interpreted steps.
	Fragment string `json:"fragment,omitempty" yaml:"fragment,omitempty"`

	// Status is the current lifecycle state
	Status Status `json:"status" yaml:"-"`

	// LocatorUsed is the locator that last resolved the target
	LocatorUsed string `json:"locator_used,omitempty" yaml:"-"`

	// LocatorConfidence is the confidence of LocatorUsed
	LocatorConfidence float64 `json:"locator_confidence,omitempty" yaml:"-"`

	// RetryCount is the number of execution attempts beyond the first
	RetryCount int `json:"retry_count,omitempty" yaml:"-"`

	// ErrorMessage holds the most recent failure message
	ErrorMessage string `json:"error_message,omitempty" yaml:"-"`
}

// Validate checks that the step carries the inputs its action requires.
func (s *Step) Validate() error {
	switch s.Action {
	case ActionNavigate:
		if s.Value == "" {
			return fmt.Errorf("step %d: navigate requires a URL value", s.Number)
		}
	case ActionClick, ActionExtract, ActionWait:
		if s.Target == "" {
			return fmt.Errorf("step %d: %s requires a target description", s.Number, s.Action)
		}
	case ActionFill:
		if s.Target == "" {
			return fmt.Errorf("step %d: fill requires a target description", s.Number)
		}
	case ActionScreenshot, ActionNewTab:
		// No required inputs
	case ActionSwitchTab:
		if s.Value == "" {
			return fmt.Errorf("step %d: switch_tab requires a tab index value", s.Number)
		}
	default:
		return fmt.Errorf("step %d: unknown action %q", s.Number, s.Action)
	}
	return nil
}

// FailureKind classifies what went wrong during step execution.
type FailureKind string

const (
	// FailLocate means no element matched the locator
	FailLocate FailureKind = "locate"

	// FailAction means the element was found but the action failed
	FailAction FailureKind = "action"

	// FailTimeout means a bounded driver wait elapsed
	FailTimeout FailureKind = "timeout"

	// FailCancelled means the task context was cancelled mid-step
	FailCancelled FailureKind = "cancelled"

	// FailInvalid means the step itself is malformed
	FailInvalid FailureKind = "invalid"
)

// Failure describes a failed step execution. It is returned as a value so
// callers inspect Kind rather than matching error strings.
type Failure struct {
	Kind             FailureKind `json:"kind"`
	Message          string      `json:"message"`
	AttemptedLocator string      `json:"attempted_locator,omitempty"`
}

// Outcome is the result of a successfully executed step.
type Outcome struct {
	// Action echoes the executed action
	Action ActionKind `json:"action"`

	// Extracted holds text content for extract actions
	Extracted string `json:"extracted,omitempty"`

	// URL is the page URL after the action completed
	URL string `json:"url,omitempty"`

	// Screenshot holds PNG bytes for screenshot actions
	Screenshot []byte `json:"-"`
}
