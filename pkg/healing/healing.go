// Package healing drives the progressive recovery of failed automation
// steps.
//
// When a step fails, the orchestrator escalates through a fixed sequence of
// recovery tiers, cheapest first: structural rescoring, vision-assisted
// suggestion, catalog fuzzy matching, code regeneration, and finally manual
// resolution. Each tier either heals the step, passes to the next tier, or
// terminates the run when the attempt budget is exhausted, a manual wait
// times out, or the task is cancelled. Every attempt at every tier is
// recorded, so a run's history explains exactly what was tried and why.
package healing

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/mend/pkg/step"
)

// Tier identifies one stage of the recovery sequence.
type Tier string

const (
	// TierAttemptPrimary is the initial execution with the best-scored locator
	TierAttemptPrimary Tier = "attempt_primary"

	// TierRescoreStructural re-scores against a fresh snapshot and tries
	// structural alternates
	TierRescoreStructural Tier = "rescore_structural"

	// TierVisionAssisted asks a vision-capable model to suggest a locator
	// from a screenshot
	TierVisionAssisted Tier = "vision_assisted"

	// TierCatalogFuzzyMatch fuzzy-matches the description against a catalog
	// of interactive elements
	TierCatalogFuzzyMatch Tier = "catalog_fuzzy_match"

	// TierCodeRegeneration regenerates the failing generated code fragment;
	// only reachable for tasks replaying generated code
	TierCodeRegeneration Tier = "code_regeneration"

	// TierManualResolution waits for an operator to supply a locator
	TierManualResolution Tier = "manual_resolution"
)

// TierOrder lists the tiers in escalation order.
func TierOrder() []Tier {
	return []Tier{
		TierAttemptPrimary,
		TierRescoreStructural,
		TierVisionAssisted,
		TierCatalogFuzzyMatch,
		TierCodeRegeneration,
		TierManualResolution,
	}
}

// Attempt is the audit record of one recovery attempt. Attempts serialize to
// JSON and round-trip without loss; they are the durable history of a run.
type Attempt struct {
	// Tier is the tier that made the attempt
	Tier Tier `json:"tier"`

	// InputLocator is the locator that was failing going into the attempt
	InputLocator string `json:"input_locator,omitempty"`

	// OutputLocator is the locator the attempt tried
	OutputLocator string `json:"output_locator,omitempty"`

	// Success reports whether the attempt healed the step
	Success bool `json:"success"`

	// Latency is how long the attempt took
	Latency time.Duration `json:"latency"`

	// ErrorMessage holds the failure message for unsuccessful attempts
	ErrorMessage string `json:"error_message,omitempty"`
}

// Budget bounds how much recovery work a single step may consume.
type Budget struct {
	// MaxTotalAttempts caps attempts across all tiers, the primary attempt
	// included. Reaching the cap terminates recovery mid-tier.
	MaxTotalAttempts int `json:"max_total_attempts" yaml:"max_total_attempts"`

	// MaxStructuralRetries caps candidates tried by the structural tier
	MaxStructuralRetries int `json:"max_structural_retries" yaml:"max_structural_retries"`

	// MaxCatalogMatches caps candidates tried by the catalog tier
	MaxCatalogMatches int `json:"max_catalog_matches" yaml:"max_catalog_matches"`

	// ManualTimeout bounds the wait for an operator selection
	ManualTimeout time.Duration `json:"manual_timeout" yaml:"manual_timeout"`

	// RetryDelay is the pause between consecutive attempts within a tier
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// DefaultBudget returns the default recovery budget.
func DefaultBudget() Budget {
	return Budget{
		MaxTotalAttempts:     10,
		MaxStructuralRetries: 3,
		MaxCatalogMatches:    3,
		ManualTimeout:        5 * time.Minute,
		RetryDelay:           500 * time.Millisecond,
	}
}

// Status is the terminal state of a healing run.
type Status string

const (
	// StatusSucceeded means the step executed, on the primary attempt or
	// after recovery
	StatusSucceeded Status = "succeeded"

	// StatusFailed means every applicable tier was exhausted or a terminal
	// condition was reached
	StatusFailed Status = "failed"

	// StatusCancelled means the task context was cancelled mid-run
	StatusCancelled Status = "cancelled"
)

// FailReason classifies why a run failed.
type FailReason string

const (
	// ReasonBudgetExhausted means MaxTotalAttempts was reached
	ReasonBudgetExhausted FailReason = "budget_exhausted"

	// ReasonTiersExhausted means every applicable tier was tried without success
	ReasonTiersExhausted FailReason = "tiers_exhausted"

	// ReasonManualTimeout means the operator wait elapsed. Distinct from
	// budget exhaustion: the run ran out of time, not attempts.
	ReasonManualTimeout FailReason = "manual_timeout"

	// ReasonStepFailed means the step failed in a way recovery does not
	// apply to: a malformed step or a failed untargeted action
	ReasonStepFailed FailReason = "step_failed"
)

// Result is the outcome of running one step through the orchestrator.
type Result struct {
	// Status is the terminal state
	Status Status `json:"status"`

	// Tier is the tier that produced success; empty on failure
	Tier Tier `json:"tier,omitempty"`

	// Locator is the locator that ultimately worked
	Locator string `json:"locator,omitempty"`

	// Confidence is the confidence of the winning locator
	Confidence float64 `json:"confidence,omitempty"`

	// Reason classifies failures
	Reason FailReason `json:"reason,omitempty"`

	// Error holds the terminal error message, when there is one
	Error string `json:"error,omitempty"`

	// Attempts is the complete attempt history, in order
	Attempts []Attempt `json:"attempts"`

	// Outcome carries the successful step's output (extracted text,
	// screenshot bytes, final URL)
	Outcome *step.Outcome `json:"outcome,omitempty"`
}

// ErrSelectionTimeout is returned by manual channels when the operator wait
// elapses without a selection.
var ErrSelectionTimeout = errors.New("manual selection timed out")

// SelectionRequest describes a failed step to a human operator.
type SelectionRequest struct {
	TaskID        string `json:"task_id"`
	StepNumber    int    `json:"step_number"`
	Description   string `json:"description"`
	FailedLocator string `json:"failed_locator,omitempty"`
	ErrorText     string `json:"error_text,omitempty"`
	PageURL       string `json:"page_url,omitempty"`
}

// ManualChannel delivers selection requests to an operator and blocks until
// a locator comes back. Implementations must honor ctx: the orchestrator
// bounds the wait with the budget's manual timeout and cancels it when the
// task is cancelled.
type ManualChannel interface {
	RequestSelection(ctx context.Context, req SelectionRequest) (string, error)
}

// FragmentRunner replays generated code fragments. Tasks driven by generated
// scripts supply one to make the code regeneration tier reachable.
type FragmentRunner interface {
	RunFragment(ctx context.Context, fragment string) error
}

// Terminal conditions propagated out of recovery strategies.
var (
	errBudgetExhausted = errors.New("attempt budget exhausted")
	errManualTimeout   = errors.New("manual resolution timed out")
)

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
