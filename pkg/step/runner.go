package step

import (
	"context"
	"fmt"
	"strconv"

	"github.com/entrhq/mend/pkg/driver"
)

// Runner executes single steps against a browser driver.
//
// Execute never returns a Go error for automation failures; it returns a
// typed Failure and leaves the step in StatusFailed pending the healing
// orchestrator's decision.
type Runner struct {
	drv driver.Driver
}

// NewRunner creates a runner bound to a driver session.
func NewRunner(drv driver.Driver) *Runner {
	return &Runner{drv: drv}
}

// Execute runs one step using the given locator for targeted actions.
//
// On success the step status becomes StatusSuccess and LocatorUsed records
// the locator that worked. On failure the step status becomes StatusFailed
// and the returned Failure describes why; the caller decides what happens
// next.
func (r *Runner) Execute(ctx context.Context, s *Step, locator string) (*Outcome, *Failure) {
	if err := s.Validate(); err != nil {
		s.Status = StatusFailed
		s.ErrorMessage = err.Error()
		return nil, &Failure{Kind: FailInvalid, Message: err.Error()}
	}
	if s.Action.HasTarget() && locator == "" {
		s.Status = StatusFailed
		s.ErrorMessage = "no locator available for target"
		return nil, &Failure{Kind: FailLocate, Message: "no locator available for target"}
	}

	s.Status = StatusRunning

	outcome, err := r.dispatch(ctx, s, locator)
	if err != nil {
		failure := classifyFailure(ctx, err, locator)
		s.Status = StatusFailed
		s.ErrorMessage = failure.Message
		return nil, failure
	}

	s.Status = StatusSuccess
	if s.Action.HasTarget() {
		s.LocatorUsed = locator
	}
	s.ErrorMessage = ""
	outcome.URL = r.drv.PageURL()
	return outcome, nil
}

// dispatch routes the step to the matching driver call.
func (r *Runner) dispatch(ctx context.Context, s *Step, locator string) (*Outcome, error) {
	outcome := &Outcome{Action: s.Action}

	switch s.Action {
	case ActionNavigate:
		return outcome, r.drv.Navigate(ctx, s.Value)

	case ActionClick:
		handle, err := r.drv.Locate(ctx, locator)
		if err != nil {
			return nil, err
		}
		return outcome, handle.Click(ctx)

	case ActionFill:
		handle, err := r.drv.Locate(ctx, locator)
		if err != nil {
			return nil, err
		}
		return outcome, handle.Fill(ctx, s.Value)

	case ActionExtract:
		handle, err := r.drv.Locate(ctx, locator)
		if err != nil {
			return nil, err
		}
		text, err := handle.Text(ctx)
		if err != nil {
			return nil, err
		}
		outcome.Extracted = text
		return outcome, nil

	case ActionWait:
		return outcome, r.drv.WaitVisible(ctx, locator)

	case ActionScreenshot:
		bytes, err := r.drv.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		outcome.Screenshot = bytes
		return outcome, nil

	case ActionNewTab:
		return outcome, r.drv.NewTab(ctx, s.Value)

	case ActionSwitchTab:
		index, err := strconv.Atoi(s.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid tab index %q: %w", s.Value, err)
		}
		return outcome, r.drv.SwitchTab(ctx, index)

	default:
		return nil, fmt.Errorf("unknown action %q", s.Action)
	}
}

// classifyFailure maps a driver error onto a failure kind. Context
// cancellation wins over every other classification.
func classifyFailure(ctx context.Context, err error, locator string) *Failure {
	failure := &Failure{Message: err.Error(), AttemptedLocator: locator}

	switch {
	case ctx.Err() != nil:
		failure.Kind = FailCancelled
		failure.Message = ctx.Err().Error()
	case driver.IsNotFound(err):
		failure.Kind = FailLocate
	case driver.IsTimeout(err):
		failure.Kind = FailTimeout
	default:
		// Detached elements and everything else: the element was reachable
		// but the action could not complete
		failure.Kind = FailAction
	}
	return failure
}
