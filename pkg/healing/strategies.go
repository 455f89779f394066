package healing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/mend/pkg/llm"
	"github.com/entrhq/mend/pkg/locator"
	"github.com/entrhq/mend/pkg/step"
)

// RecoveryStrategy is one tier of the recovery sequence. Available reports
// whether the tier's prerequisites are met for this session; an unavailable
// tier is skipped, never counted as a failure. Recover returns whether the
// step was healed; a non-nil error terminates the whole run.
type RecoveryStrategy interface {
	Tier() Tier
	Available(h *Session) bool
	Recover(ctx context.Context, h *Session) (bool, error)
}

// structuralStrategy re-scores the target against a fresh snapshot and walks
// the ranked candidates, falling back to structural alternates of the
// original element when scoring produces nothing new.
type structuralStrategy struct {
	o *Orchestrator
}

func (s *structuralStrategy) Tier() Tier {
	return TierRescoreStructural
}

func (s *structuralStrategy) Available(*Session) bool {
	return true
}

func (s *structuralStrategy) Recover(ctx context.Context, h *Session) (bool, error) {
	idx := h.Refresh(ctx)

	candidates := s.o.scorer.FindAll(h.step().Target, idx)
	if len(candidates) == 0 && h.primaryCandidate != nil {
		// The fresh snapshot gives no signal; fall back to structural
		// neighbors of the element the primary attempt resolved
		candidates = s.o.scorer.FindFallbacks(h.primaryCandidate, h.primaryIndex, s.o.budget.MaxStructuralRetries)
	}

	tried := 0
	for i := range candidates {
		if tried >= s.o.budget.MaxStructuralRetries {
			break
		}
		cand := &candidates[i]
		if cand.Locator == h.FailedLocator() {
			// The locator that just failed; a rescore that reproduces it
			// adds nothing
			continue
		}
		if tried > 0 {
			if err := sleepCtx(ctx, s.o.budget.RetryDelay); err != nil {
				return false, err
			}
		}
		tried++

		healed, err := h.TryLocator(ctx, TierRescoreStructural, cand)
		if healed || err != nil {
			return healed, err
		}
	}
	return false, nil
}

// visionStrategy asks the model service for a locator suggestion backed by a
// screenshot. Service unavailability is recorded and passed over; the next
// tier gets its chance.
type visionStrategy struct {
	o *Orchestrator
}

func (s *visionStrategy) Tier() Tier {
	return TierVisionAssisted
}

func (s *visionStrategy) Available(*Session) bool {
	return s.o.service != nil
}

func (s *visionStrategy) Recover(ctx context.Context, h *Session) (bool, error) {
	screenshot, err := s.o.drv.Screenshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if nerr := h.note(TierVisionAssisted, fmt.Sprintf("screenshot capture failed: %v", err)); nerr != nil {
			return false, nerr
		}
		return false, nil
	}

	suggestion, err := s.o.service.SuggestLocator(ctx, llm.SuggestRequest{
		Description:   h.step().Target,
		PageContext:   s.o.pageContext(ctx),
		Screenshot:    screenshot,
		FailedLocator: h.FailedLocator(),
		ErrorText:     failureMessage(h.LastFailure()),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return false, ctx.Err()
		}
		s.o.logger.Warnf("vision tier unavailable: %v", err)
		if nerr := h.note(TierVisionAssisted, fmt.Sprintf("vision suggestion unavailable: %v", err)); nerr != nil {
			return false, nerr
		}
		return false, nil
	}

	cand := &locator.Candidate{
		Strategy:   locator.KindOf(suggestion.Locator),
		Locator:    suggestion.Locator,
		Confidence: suggestion.Confidence,
		Rationale:  []string{"vision suggestion: " + suggestion.Reason},
	}
	return h.TryLocator(ctx, TierVisionAssisted, cand)
}

// codegenStrategy regenerates the failing generated code fragment and
// replays it. Only reachable for tasks driven by generated code.
type codegenStrategy struct {
	o *Orchestrator
}

func (s *codegenStrategy) Tier() Tier {
	return TierCodeRegeneration
}

func (s *codegenStrategy) Available(h *Session) bool {
	req := h.Request()
	return s.o.service != nil && req.Fragment != "" && req.Fragments != nil
}

func (s *codegenStrategy) Recover(ctx context.Context, h *Session) (bool, error) {
	req := h.Request()

	regenerated, err := s.o.service.RegenerateCode(ctx, llm.RegenerateRequest{
		Fragment:    req.Fragment,
		ErrorText:   failureMessage(h.LastFailure()),
		PageContext: s.o.pageContext(ctx),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return false, ctx.Err()
		}
		if nerr := h.note(TierCodeRegeneration, fmt.Sprintf("code regeneration unavailable: %v", err)); nerr != nil {
			return false, nerr
		}
		return false, nil
	}

	return h.tryFragment(ctx, regenerated.Fragment)
}

// tryFragment replays a regenerated fragment as one budgeted attempt.
func (h *Session) tryFragment(ctx context.Context, fragment string) (bool, error) {
	if len(h.attempts) >= h.o.budget.MaxTotalAttempts {
		return false, errBudgetExhausted
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := h.step()
	s.Status = step.StatusRetrying
	s.RetryCount++

	start := time.Now()
	err := h.req.Fragments.RunFragment(ctx, fragment)
	attempt := Attempt{
		Tier:         TierCodeRegeneration,
		InputLocator: h.lastLocator,
		Latency:      time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			attempt.ErrorMessage = ctx.Err().Error()
			h.attempts = append(h.attempts, attempt)
			return false, ctx.Err()
		}
		attempt.ErrorMessage = err.Error()
		h.attempts = append(h.attempts, attempt)
		h.lastFailure = &step.Failure{Kind: step.FailAction, Message: err.Error()}
		return false, nil
	}

	attempt.Success = true
	h.attempts = append(h.attempts, attempt)
	h.output = &step.Outcome{Action: s.Action, URL: h.o.drv.PageURL()}
	h.winnerTier = TierCodeRegeneration
	s.Status = step.StatusSuccess
	s.ErrorMessage = ""
	return true, nil
}

// manualStrategy hands the failure to a human operator and waits, bounded by
// the budget's manual timeout.
type manualStrategy struct {
	o *Orchestrator
}

func (s *manualStrategy) Tier() Tier {
	return TierManualResolution
}

func (s *manualStrategy) Available(*Session) bool {
	return s.o.manual != nil
}

func (s *manualStrategy) Recover(ctx context.Context, h *Session) (bool, error) {
	request := SelectionRequest{
		TaskID:        h.Request().TaskID,
		StepNumber:    h.step().Number,
		Description:   h.step().Target,
		FailedLocator: h.FailedLocator(),
		ErrorText:     failureMessage(h.LastFailure()),
		PageURL:       s.o.drv.PageURL(),
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.o.budget.ManualTimeout)
	defer cancel()

	selected, err := s.o.manual.RequestSelection(waitCtx, request)
	if err != nil {
		// Parent cancellation wins over the wait deadline
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, ErrSelectionTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return false, errManualTimeout
		}
		if nerr := h.note(TierManualResolution, fmt.Sprintf("manual channel error: %v", err)); nerr != nil {
			return false, nerr
		}
		return false, nil
	}

	cand := &locator.Candidate{
		Strategy:   locator.KindOf(selected),
		Locator:    selected,
		Confidence: 1.0,
		Rationale:  []string{"operator supplied"},
	}
	return h.TryLocator(ctx, TierManualResolution, cand)
}

// pageContext summarizes the current page for model calls. Missing builder
// or unreadable page yields an empty context; model calls degrade, they do
// not fail.
func (o *Orchestrator) pageContext(ctx context.Context) string {
	if o.contexts == nil {
		return ""
	}
	rawHTML, err := o.drv.PageHTML(ctx)
	if err != nil {
		return ""
	}
	return o.contexts.Build(rawHTML)
}

// failureMessage extracts the message of a possibly-nil failure.
func failureMessage(f *step.Failure) string {
	if f == nil {
		return ""
	}
	return f.Message
}
