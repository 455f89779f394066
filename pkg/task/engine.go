package task

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/entrhq/mend/pkg/driver"
	"github.com/entrhq/mend/pkg/healing"
	"github.com/entrhq/mend/pkg/llm"
	"github.com/entrhq/mend/pkg/locator"
	"github.com/entrhq/mend/pkg/logging"
	"github.com/entrhq/mend/pkg/outcome"
	"github.com/entrhq/mend/pkg/step"
)

// DefaultConcurrency is the default number of tasks run at once.
const DefaultConcurrency = 3

// SessionSource opens and closes exclusive browser sessions for tasks.
type SessionSource interface {
	OpenSession(id string) (driver.Driver, error)
	CloseSession(id string) error
}

// poolSource adapts a driver.Pool to the SessionSource interface.
type poolSource struct {
	pool *driver.Pool
	opts driver.SessionOptions
}

// NewPoolSource wraps a driver pool as a session source, opening every
// session with the given options.
func NewPoolSource(pool *driver.Pool, opts driver.SessionOptions) SessionSource {
	return &poolSource{pool: pool, opts: opts}
}

func (p *poolSource) OpenSession(id string) (driver.Driver, error) {
	return p.pool.OpenSession(id, p.opts)
}

func (p *poolSource) CloseSession(id string) error {
	return p.pool.CloseSession(id)
}

// Status is the terminal state of a task run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepResult pairs a step with its complete healing history.
type StepResult struct {
	Step    *step.Step      `json:"step"`
	Healing *healing.Result `json:"healing"`
}

// Result is the structured outcome of one task run.
type Result struct {
	TaskID     string       `json:"task_id"`
	Name       string       `json:"name"`
	Status     Status       `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
}

// Engine runs tasks, bounding how many browser sessions are live at once.
type Engine struct {
	source    SessionSource
	scorerCfg locator.Config
	budget    healing.Budget
	sem       *semaphore.Weighted
	logger    *logging.Logger

	service   llm.Service
	contexts  *llm.ContextBuilder
	manual    healing.ManualChannel
	recorder  *outcome.Recorder
	fragments healing.FragmentRunner
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorerConfig replaces the default locator scoring parameters.
func WithScorerConfig(cfg locator.Config) Option {
	return func(e *Engine) {
		e.scorerCfg = cfg
	}
}

// WithBudget sets the recovery budget for tasks that do not carry their own.
func WithBudget(budget healing.Budget) Option {
	return func(e *Engine) {
		e.budget = budget
	}
}

// WithConcurrency bounds how many tasks run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithService enables model-backed recovery tiers for every task.
func WithService(service llm.Service) Option {
	return func(e *Engine) {
		e.service = service
	}
}

// WithContextBuilder attaches page context summaries to model calls.
func WithContextBuilder(builder *llm.ContextBuilder) Option {
	return func(e *Engine) {
		e.contexts = builder
	}
}

// WithManualChannel enables the manual resolution tier for every task.
func WithManualChannel(channel healing.ManualChannel) Option {
	return func(e *Engine) {
		e.manual = channel
	}
}

// WithRecorder records attempt outcomes and feeds historical weighting back
// into locator scoring.
func WithRecorder(recorder *outcome.Recorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithFragmentRunner enables the code regeneration tier for steps that
// carry generated code fragments.
func WithFragmentRunner(runner healing.FragmentRunner) Option {
	return func(e *Engine) {
		e.fragments = runner
	}
}

// NewEngine creates an engine drawing sessions from the given source.
func NewEngine(source SessionSource, opts ...Option) *Engine {
	logger, _ := logging.NewLogger("engine")
	e := &Engine{
		source:    source,
		scorerCfg: locator.DefaultConfig(),
		budget:    healing.DefaultBudget(),
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one task to completion. The task holds an exclusive browser
// session for its whole run; the session is released on every exit path,
// cancellation included.
//
// A task whose steps fail still returns a Result, not an error; errors are
// reserved for infrastructure problems such as session acquisition.
func (e *Engine) Run(ctx context.Context, t *Task) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	drv, err := e.source.OpenSession(t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for task %s: %w", t.ID, err)
	}
	defer func() {
		if err := e.source.CloseSession(t.ID); err != nil {
			e.logger.Warnf("failed to close session for task %s: %v", t.ID, err)
		}
	}()

	budget := t.Budget
	if budget == (healing.Budget{}) {
		budget = e.budget
	}

	var weighter locator.Weighter
	if e.recorder != nil {
		weighter = e.recorder
	}
	scorer := locator.NewScorer(e.scorerCfg, weighter)
	orch := healing.NewOrchestrator(drv, scorer, budget, e.orchestratorOptions()...)

	site := t.Site
	if site == "" {
		site = hostOf(t.URL)
	}

	result := &Result{
		TaskID:    t.ID,
		Name:      t.Name,
		Status:    StatusSucceeded,
		StartedAt: time.Now(),
	}
	e.logger.Infof("task %s (%s): starting %d steps", t.ID, t.Name, len(t.Steps))

	for _, s := range t.Steps {
		if err := ctx.Err(); err != nil {
			result.Status = StatusCancelled
			result.Error = err.Error()
			break
		}

		req := healing.Request{TaskID: t.ID, Site: site, Step: s}
		if s.Fragment != "" && e.fragments != nil {
			req.Fragment = s.Fragment
			req.Fragments = e.fragments
		}
		hres := orch.RunStep(ctx, req)
		result.Steps = append(result.Steps, StepResult{Step: s, Healing: hres})

		if hres.Status == healing.StatusCancelled {
			result.Status = StatusCancelled
			result.Error = hres.Error
			break
		}
		if hres.Status == healing.StatusFailed {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("step %d failed: %s", s.Number, stepError(hres))
			e.logger.Warnf("task %s: aborting at step %d (%s)", t.ID, s.Number, hres.Reason)
			break
		}
	}

	result.FinishedAt = time.Now()
	e.logger.Infof("task %s: finished with status %s", t.ID, result.Status)
	return result, nil
}

// RunAll executes tasks concurrently, up to the engine's concurrency bound.
// Results are positionally aligned with the input. The first infrastructure
// error cancels the remaining tasks.
func (e *Engine) RunAll(ctx context.Context, tasks []*Task) ([]*Result, error) {
	results := make([]*Result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			res, err := e.Run(gctx, t)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// orchestratorOptions maps the engine's configured services onto healing
// options.
func (e *Engine) orchestratorOptions() []healing.Option {
	var opts []healing.Option
	if e.service != nil {
		opts = append(opts, healing.WithService(e.service))
	}
	if e.contexts != nil {
		opts = append(opts, healing.WithContextBuilder(e.contexts))
	}
	if e.manual != nil {
		opts = append(opts, healing.WithManualChannel(e.manual))
	}
	if e.recorder != nil {
		opts = append(opts, healing.WithRecorder(e.recorder))
	}
	return opts
}

// hostOf extracts the hostname from a URL, or "" when unparseable.
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// stepError picks the most informative failure description.
func stepError(res *healing.Result) string {
	if res.Error != "" {
		return res.Error
	}
	return string(res.Reason)
}
