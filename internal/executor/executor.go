package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gardehq/garde/internal/confirm"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
	"github.com/gardehq/garde/internal/tools"
)

const (
	// DefaultMaxConcurrent bounds parallel tool dispatch per plan.
	DefaultMaxConcurrent = 4
	// DefaultRetryBackoff is the base delay between retry attempts; attempt
	// n waits n times this.
	DefaultRetryBackoff = 200 * time.Millisecond
)

// ErrStuckPlan reports a plan whose pending tasks can never become ready.
// Validation rejects cycles up front, so this only fires when a dependency
// finished without completing and the cascade missed it.
var ErrStuckPlan = errors.New("plan stuck: pending tasks with unmet dependencies")

// Invoker dispatches a single tool call. *tools.Registry implements it; tests
// substitute scripted fakes.
type Invoker interface {
	Invoke(ctx context.Context, call tools.Call) (tools.Envelope, error)
}

// Config carries the executor's dependencies and tuning knobs.
type Config struct {
	Invoker       Invoker
	MaxConcurrent int
	RetryBackoff  time.Duration
}

// Executor walks a validated plan wave by wave: all ready tasks are checked
// for ambiguity, then dispatched concurrently under the parallelism bound.
// Execution either finishes every task or suspends with a pending
// confirmation; suspension is an outcome, not an error.
type Executor struct {
	invoker       Invoker
	maxConcurrent int
	backoff       time.Duration
}

// New builds an executor, applying defaults for unset knobs.
func New(cfg Config) *Executor {
	e := &Executor{
		invoker:       cfg.Invoker,
		maxConcurrent: cfg.MaxConcurrent,
		backoff:       cfg.RetryBackoff,
	}
	if e.maxConcurrent <= 0 {
		e.maxConcurrent = DefaultMaxConcurrent
	}
	if e.backoff <= 0 {
		e.backoff = DefaultRetryBackoff
	}
	return e
}

// OutcomeState says how an execution pass ended.
type OutcomeState int

const (
	// OutcomeCompleted means every task reached a terminal status.
	OutcomeCompleted OutcomeState = iota
	// OutcomeSuspended means execution parked on an ambiguous mutation and
	// is waiting for the user.
	OutcomeSuspended
)

// Outcome is the result of one execution pass over a plan.
type Outcome struct {
	State      OutcomeState
	Suspension *sessions.PendingConfirmation
}

// Execute runs the plan until every task is terminal or an ambiguous
// mutation suspends the turn. Task statuses and results are mutated in
// place; on suspension the session holds the pending confirmation and
// non-executed tasks keep their pending status. A panic anywhere in the
// dispatch path aborts the plan with a system error instead of crossing the
// goroutine boundary.
func (e *Executor) Execute(ctx context.Context, session *sessions.Session, plan *tasks.Plan, chain *Chain) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.abort(session, plan, chain, fmt.Errorf("scheduler panicked: %v", r))
			outcome = Outcome{State: OutcomeCompleted}
		}
	}()

	sem := make(chan struct{}, e.maxConcurrent)

	for {
		if cerr := ctx.Err(); cerr != nil {
			e.skipRemaining(plan, chain, "request cancelled")
			chain.SystemError("cancelled", "The request was cancelled.", cerr.Error())
			return Outcome{State: OutcomeCompleted}, cerr
		}

		ready := tasks.Ready(plan)
		if len(ready) == 0 {
			if plan.CountByStatus(tasks.StatusPending) > 0 {
				e.skipRemaining(plan, chain, "dependencies can never be met")
				chain.SystemError("stuck_plan", "I could not finish your request: some steps depend on work that never completed.", "")
				return Outcome{State: OutcomeCompleted}, ErrStuckPlan
			}
			return Outcome{State: OutcomeCompleted}, nil
		}

		// Ambiguity gate runs over the whole wave before anything is
		// dispatched, so a suspended turn leaves no task half-run.
		for _, t := range ready {
			amb := confirm.Detect(t, session)
			if amb == nil {
				continue
			}
			pending := e.suspend(session, plan, chain, amb)
			return Outcome{State: OutcomeSuspended, Suspension: pending}, nil
		}

		if perr := e.runWave(ctx, session, plan, chain, ready, sem); perr != nil {
			return Outcome{State: OutcomeCompleted}, e.abort(session, plan, chain, perr)
		}

		e.cascadeSkips(plan, chain)
	}
}

// runWave dispatches one ready set under the parallelism bound and waits for
// it to drain. Semaphore slots are acquired in ready order, so priority holds
// even when the wave is wider than the bound. A recovered dispatch panic is
// returned after the wave drains.
func (e *Executor) runWave(ctx context.Context, session *sessions.Session, plan *tasks.Plan, chain *Chain, ready []*tasks.Task, sem chan struct{}) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var panicked error

	for _, t := range ready {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		t.Status = tasks.StatusReady
		wg.Add(1)
		go func(t *tasks.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.fail(chain, t, fmt.Errorf("dispatch panicked: %v", r))
					mu.Lock()
					if panicked == nil {
						panicked = fmt.Errorf("task %s dispatch panicked: %v", t.ID, r)
					}
					mu.Unlock()
				}
			}()
			e.runTask(ctx, session, plan, chain, t)
		}(t)
	}
	wg.Wait()

	return panicked
}

// abort skips everything still runnable, emits the system error frame and
// hands the cause back to the caller.
func (e *Executor) abort(session *sessions.Session, plan *tasks.Plan, chain *Chain, cause error) error {
	slog.Error("plan aborted", "session_id", session.ID(), "plan_id", plan.ID, "error", cause)
	e.skipRemaining(plan, chain, "internal error")
	chain.SystemError("internal_error", "Something went wrong while executing your request.", cause.Error())
	return cause
}

// SkipRemaining marks every non-terminal task skipped with the given reason,
// emitting a progress frame per task. Used when the user cancels a parked
// confirmation.
func (e *Executor) SkipRemaining(plan *tasks.Plan, chain *Chain, reason string) int {
	return e.skipRemaining(plan, chain, reason)
}

func (e *Executor) suspend(session *sessions.Session, plan *tasks.Plan, chain *Chain, amb *confirm.Ambiguity) *sessions.PendingConfirmation {
	executed, remaining := splitTerminal(plan)
	pending := confirm.NewPending(amb, plan.Utterance, plan.Generation, executed, remaining)
	session.SetPending(pending)
	chain.PauseForConfirmation(pending)
	slog.Info("execution suspended for confirmation",
		"session_id", session.ID(),
		"plan_id", plan.ID,
		"task_id", amb.Task.ID,
		"tool", amb.Task.Tool,
		"item", amb.ItemName,
		"matches", len(amb.Candidates))
	return pending
}

func (e *Executor) runTask(ctx context.Context, session *sessions.Session, plan *tasks.Plan, chain *Chain, t *tasks.Task) {
	start := time.Now()
	t.Status = tasks.StatusInProgress
	t.StartedAt = &start
	chain.UpdateTaskProgress(t.ID, tasks.StatusInProgress)

	args, err := ResolveParams(t, plan)
	if err != nil {
		// The upstream result is committed; retrying cannot change it.
		e.fail(chain, t, err)
		return
	}

	call := tools.Call{
		Tool:      t.Tool,
		Args:      args,
		AuthToken: session.AuthToken(),
		SessionID: session.ID(),
	}

	env, err := e.invokeWithRetry(ctx, t, call)
	if err == nil {
		e.complete(chain, t, env.Data)
		return
	}

	if t.FallbackTool != "" && ctx.Err() == nil {
		fb := call
		fb.Tool = t.FallbackTool
		fenv, ferr := e.invoker.Invoke(ctx, fb)
		if ferr == nil {
			slog.Info("fallback tool absorbed failure",
				"task_id", t.ID, "tool", t.Tool, "fallback", t.FallbackTool, "cause", err)
			e.complete(chain, t, fenv.Data)
			return
		}
		err = fmt.Errorf("%w (fallback %s: %v)", err, t.FallbackTool, ferr)
	}
	e.fail(chain, t, err)
}

func (e *Executor) invokeWithRetry(ctx context.Context, t *tasks.Task, call tools.Call) (tools.Envelope, error) {
	var last error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			t.RetryCount = attempt
			select {
			case <-ctx.Done():
				return tools.Envelope{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * e.backoff):
			}
			slog.Debug("retrying tool call", "task_id", t.ID, "tool", call.Tool, "attempt", attempt)
		}
		env, err := e.invoker.Invoke(ctx, call)
		if err == nil {
			return env, nil
		}
		last = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return tools.Envelope{}, last
}

// retryable says whether another attempt could plausibly succeed. Unknown
// tools and schema rejections fail the same way every time; transport and
// domain errors may be transient.
func retryable(err error) bool {
	if errors.Is(err, tools.ErrUnknownTool) {
		return false
	}
	var verr *tools.ValidationError
	return !errors.As(err, &verr)
}

func (e *Executor) complete(chain *Chain, t *tasks.Task, result json.RawMessage) {
	now := time.Now()
	t.Status = tasks.StatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
	chain.UpdateTaskProgress(t.ID, tasks.StatusCompleted)
}

func (e *Executor) fail(chain *Chain, t *tasks.Task, err error) {
	now := time.Now()
	t.Status = tasks.StatusFailed
	t.Error = err.Error()
	t.CompletedAt = &now
	slog.Warn("task failed", "task_id", t.ID, "tool", t.Tool, "retries", t.RetryCount, "error", err)
	chain.UpdateTaskProgress(t.ID, tasks.StatusFailed)
}

// cascadeSkips marks every pending transitive dependent of a failed or
// skipped task as skipped. Iterates to a fixpoint so chains skip fully
// regardless of declaration order.
func (e *Executor) cascadeSkips(plan *tasks.Plan, chain *Chain) {
	for changed := true; changed; {
		changed = false
		for _, t := range plan.Tasks {
			if t.Status != tasks.StatusFailed && t.Status != tasks.StatusSkipped {
				continue
			}
			for _, depID := range tasks.Dependents(plan, t.ID) {
				dep := plan.Task(depID)
				if dep == nil || dep.Status != tasks.StatusPending {
					continue
				}
				dep.Status = tasks.StatusSkipped
				dep.Error = fmt.Sprintf("dependency %s did not complete", t.ID)
				chain.UpdateTaskProgress(dep.ID, tasks.StatusSkipped)
				changed = true
			}
		}
	}
}

func (e *Executor) skipRemaining(plan *tasks.Plan, chain *Chain, reason string) int {
	n := 0
	for _, t := range plan.Tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = tasks.StatusSkipped
		t.Error = reason
		chain.UpdateTaskProgress(t.ID, tasks.StatusSkipped)
		n++
	}
	return n
}

func splitTerminal(plan *tasks.Plan) (executed, remaining []*tasks.Task) {
	for _, t := range plan.Tasks {
		if t.Status.Terminal() {
			executed = append(executed, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	return executed, remaining
}
