package healing

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/mend/pkg/driver"
	"github.com/entrhq/mend/pkg/llm"
	"github.com/entrhq/mend/pkg/locator"
	"github.com/entrhq/mend/pkg/logging"
	"github.com/entrhq/mend/pkg/outcome"
	"github.com/entrhq/mend/pkg/snapshot"
	"github.com/entrhq/mend/pkg/step"
)

// Request identifies the step to run and the context it runs in.
type Request struct {
	// TaskID is the owning task's identifier
	TaskID string

	// Site is the hostname scope for outcome statistics
	Site string

	// Step is the step to execute and, if needed, heal
	Step *step.Step

	// Fragment is the generated code fragment this step replays. Together
	// with Fragments it makes the code regeneration tier reachable; tasks
	// built from interpreted steps leave both unset.
	Fragment  string
	Fragments FragmentRunner
}

// Orchestrator runs steps and escalates failures through the recovery tiers.
type Orchestrator struct {
	drv    driver.Driver
	runner *step.Runner
	scorer *locator.Scorer
	budget Budget
	logger *logging.Logger

	service    llm.Service
	contexts   *llm.ContextBuilder
	manual     ManualChannel
	recorder   *outcome.Recorder
	strategies []RecoveryStrategy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithService enables the vision-assisted and code regeneration tiers.
func WithService(service llm.Service) Option {
	return func(o *Orchestrator) {
		o.service = service
	}
}

// WithContextBuilder attaches page context summaries to model calls.
func WithContextBuilder(builder *llm.ContextBuilder) Option {
	return func(o *Orchestrator) {
		o.contexts = builder
	}
}

// WithManualChannel enables the manual resolution tier.
func WithManualChannel(channel ManualChannel) Option {
	return func(o *Orchestrator) {
		o.manual = channel
	}
}

// WithRecorder feeds per-attempt outcome records into the given recorder.
func WithRecorder(recorder *outcome.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithStrategies replaces the default recovery strategies. The slice order
// is the escalation order.
func WithStrategies(strategies []RecoveryStrategy) Option {
	return func(o *Orchestrator) {
		o.strategies = strategies
	}
}

// NewOrchestrator creates an orchestrator bound to a driver session. Tiers
// whose prerequisites are not configured (no model service, no manual
// channel, no fragment runner) are skipped, never failed.
func NewOrchestrator(drv driver.Driver, scorer *locator.Scorer, budget Budget, opts ...Option) *Orchestrator {
	logger, _ := logging.NewLogger("healing")
	o := &Orchestrator{
		drv:    drv,
		runner: step.NewRunner(drv),
		scorer: scorer,
		budget: budget,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.strategies == nil {
		o.strategies = []RecoveryStrategy{
			&structuralStrategy{o: o},
			&visionStrategy{o: o},
			&catalogStrategy{o: o},
			&codegenStrategy{o: o},
			&manualStrategy{o: o},
		}
	}
	return o
}

// RunStep executes one step, healing it through the recovery tiers when the
// primary attempt fails. The returned result always carries the complete
// attempt history, terminal or not.
func (o *Orchestrator) RunStep(ctx context.Context, req Request) *Result {
	h := &Session{o: o, req: req}
	s := req.Step

	if !s.Action.HasTarget() {
		return o.runUntargeted(ctx, h)
	}

	healed, err := h.primary(ctx)
	if err != nil {
		return h.terminal(ctx, err)
	}
	if healed {
		return h.succeeded()
	}

	s.Status = step.StatusHealing
	o.logger.Infof("step %d: primary attempt failed, entering recovery (task %s)", s.Number, req.TaskID)

	for _, strategy := range o.strategies {
		if err := ctx.Err(); err != nil {
			return h.terminal(ctx, err)
		}
		// Reaching the attempt cap ends the run here, before the next tier
		// does any work
		if len(h.attempts) >= o.budget.MaxTotalAttempts {
			return h.terminal(ctx, errBudgetExhausted)
		}
		if !strategy.Available(h) {
			continue
		}

		healed, err := strategy.Recover(ctx, h)
		if err != nil {
			return h.terminal(ctx, err)
		}
		if healed {
			o.logger.Infof("step %d: healed at tier %s with locator %q", s.Number, strategy.Tier(), h.step().LocatorUsed)
			return h.succeeded()
		}
	}

	s.Status = step.StatusFailed
	o.logger.Warnf("step %d: all recovery tiers exhausted (task %s)", s.Number, req.TaskID)
	return &Result{
		Status:   StatusFailed,
		Reason:   ReasonTiersExhausted,
		Error:    h.lastErrorMessage(),
		Attempts: h.attempts,
	}
}

// runUntargeted executes actions without an element target. Recovery tiers
// resolve locators, so they do not apply; failures are terminal.
func (o *Orchestrator) runUntargeted(ctx context.Context, h *Session) *Result {
	s := h.req.Step

	start := time.Now()
	out, failure := o.runner.Execute(ctx, s, "")
	attempt := Attempt{Tier: TierAttemptPrimary, Latency: time.Since(start)}

	if failure != nil {
		attempt.ErrorMessage = failure.Message
		h.attempts = append(h.attempts, attempt)
		if failure.Kind == step.FailCancelled {
			return h.terminal(ctx, ctx.Err())
		}
		return &Result{
			Status:   StatusFailed,
			Reason:   ReasonStepFailed,
			Error:    failure.Message,
			Attempts: h.attempts,
		}
	}

	attempt.Success = true
	h.attempts = append(h.attempts, attempt)
	h.output = out
	h.winnerTier = TierAttemptPrimary
	return h.succeeded()
}

// Session carries the mutable state of healing one step. Recovery strategies
// receive it to inspect the failure and try replacement locators through it.
type Session struct {
	o   *Orchestrator
	req Request

	attempts []Attempt
	index    *snapshot.Index

	// Snapshot and candidate of the primary attempt, kept for structural
	// fallback generation after the page has moved on
	primaryIndex     *snapshot.Index
	primaryCandidate *locator.Candidate

	lastFailure *step.Failure
	lastLocator string

	output     *step.Outcome
	winner     *locator.Candidate
	winnerTier Tier
}

// Request returns the healing request.
func (h *Session) Request() *Request {
	return &h.req
}

// Index returns the most recent snapshot index.
func (h *Session) Index() *snapshot.Index {
	return h.index
}

// LastFailure returns the most recent step failure, or nil before any.
func (h *Session) LastFailure() *step.Failure {
	return h.lastFailure
}

// FailedLocator returns the locator of the most recent failed attempt.
func (h *Session) FailedLocator() string {
	return h.lastLocator
}

// AttemptCount returns the number of recorded attempts so far.
func (h *Session) AttemptCount() int {
	return len(h.attempts)
}

func (h *Session) step() *step.Step {
	return h.req.Step
}

// Refresh captures a fresh snapshot and replaces the session index. Capture
// failures yield an empty index; matching against nothing is a recoverable
// condition, a missing snapshot is not worth terminating over.
func (h *Session) Refresh(ctx context.Context) *snapshot.Index {
	raw, err := h.o.drv.Snapshot(ctx)
	if err != nil {
		h.o.logger.Warnf("snapshot capture failed: %v", err)
		h.index = snapshot.Parse(nil)
		return h.index
	}
	h.index = snapshot.Parse(raw)
	return h.index
}

// TryLocator executes the step with the candidate's locator, recording the
// attempt and its outcome statistic. It enforces the total attempt budget
// and surfaces cancellation; both terminate the run via the returned error.
func (h *Session) TryLocator(ctx context.Context, tier Tier, cand *locator.Candidate) (bool, error) {
	if len(h.attempts) >= h.o.budget.MaxTotalAttempts {
		return false, errBudgetExhausted
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := h.step()
	if tier != TierAttemptPrimary {
		s.Status = step.StatusRetrying
		s.RetryCount++
	}

	start := time.Now()
	out, failure := h.o.runner.Execute(ctx, s, cand.Locator)
	attempt := Attempt{
		Tier:          tier,
		InputLocator:  h.lastLocator,
		OutputLocator: cand.Locator,
		Latency:       time.Since(start),
	}

	if failure != nil {
		attempt.ErrorMessage = failure.Message
		h.attempts = append(h.attempts, attempt)
		h.record(cand.Strategy, tier, false)
		h.lastFailure = failure
		h.lastLocator = cand.Locator
		if failure.Kind == step.FailCancelled {
			return false, ctx.Err()
		}
		return false, nil
	}

	attempt.Success = true
	h.attempts = append(h.attempts, attempt)
	h.record(cand.Strategy, tier, true)
	h.output = out
	h.winner = cand
	h.winnerTier = tier
	s.LocatorConfidence = cand.Confidence
	return true, nil
}

// note records a non-execution attempt, such as a tier that could not run
// because its service was unavailable. Notes count against the total attempt
// budget like any other attempt; at the cap the note is not recorded and the
// run terminates budget-exhausted.
func (h *Session) note(tier Tier, message string) error {
	if len(h.attempts) >= h.o.budget.MaxTotalAttempts {
		return errBudgetExhausted
	}
	h.attempts = append(h.attempts, Attempt{
		Tier:         tier,
		InputLocator: h.lastLocator,
		ErrorMessage: message,
	})
	return nil
}

// primary scores the target against a fresh snapshot and runs the step with
// the best candidate.
func (h *Session) primary(ctx context.Context) (bool, error) {
	h.Refresh(ctx)
	h.primaryIndex = h.index

	cand := h.o.scorer.FindBest(h.step().Target, h.index)
	if cand == nil {
		h.lastFailure = &step.Failure{Kind: step.FailLocate, Message: "no locator candidates for target"}
		if err := h.note(TierAttemptPrimary, "no locator candidates for target"); err != nil {
			return false, err
		}
		return false, nil
	}
	h.primaryCandidate = cand
	return h.TryLocator(ctx, TierAttemptPrimary, cand)
}

// record forwards one attempt outcome to the statistics recorder.
func (h *Session) record(kind locator.Kind, tier Tier, success bool) {
	if h.o.recorder == nil {
		return
	}
	h.o.recorder.Record(outcome.Record{
		Strategy:  kind,
		Tier:      string(tier),
		Success:   success,
		Site:      h.req.Site,
		Timestamp: time.Now(),
	})
}

// succeeded builds the success result from the winning attempt.
func (h *Session) succeeded() *Result {
	res := &Result{
		Status:   StatusSucceeded,
		Tier:     h.winnerTier,
		Attempts: h.attempts,
		Outcome:  h.output,
	}
	if h.winner != nil {
		res.Locator = h.winner.Locator
		res.Confidence = h.winner.Confidence
	}
	return res
}

// terminal maps a strategy error onto the matching terminal result.
func (h *Session) terminal(ctx context.Context, err error) *Result {
	s := h.step()
	s.Status = step.StatusFailed

	res := &Result{Status: StatusFailed, Attempts: h.attempts}
	switch {
	case errors.Is(err, errBudgetExhausted):
		res.Reason = ReasonBudgetExhausted
		res.Error = err.Error()
	case errors.Is(err, errManualTimeout):
		res.Reason = ReasonManualTimeout
		res.Error = err.Error()
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
		if err != nil {
			res.Error = err.Error()
		}
	default:
		res.Reason = ReasonStepFailed
		if err != nil {
			res.Error = err.Error()
		}
	}
	return res
}

// lastErrorMessage returns the most recent failure message for the terminal
// result.
func (h *Session) lastErrorMessage() string {
	if h.lastFailure != nil {
		return h.lastFailure.Message
	}
	return ""
}
