// Package workflow executes a validated Plan: linear topological order,
// checkpoint-before-mutate, bounded retry with back-off, reverse-order
// rollback on failure, and pause/resume/cancel control at step boundaries.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/davidkarpay/agentrt/internal/checkpoint"
	"github.com/davidkarpay/agentrt/internal/plan"
	"github.com/davidkarpay/agentrt/internal/session"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

// PathCanonicalizer resolves a raw path argument to the executor's
// canonical, contained form. toolexec.Executor satisfies this via its
// CanonicalPath method.
type PathCanonicalizer interface {
	CanonicalPath(path string) (string, error)
}

// Dispatcher runs a single tool invocation. toolexec.Executor satisfies
// this directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, spec toolexec.Spec, args map[string]interface{}) toolexec.Result
}

// Executor is the subset of toolexec.Executor the engine needs.
type Executor interface {
	Dispatcher
	PathCanonicalizer
}

// ProgressEvent is one entry in a workflow run's execution log, mirroring
// §4.9's caller callback shape.
type ProgressEvent struct {
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id,omitempty"`
	Event     session.EventType `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProgressFunc receives each event as it happens.
type ProgressFunc func(ProgressEvent)

const (
	maxAttempts   = 3
	baseBackoff   = 500 * time.Millisecond
	pausePollTick = 50 * time.Millisecond
)

// State is the portable form of a workflow run, sufficient to resume a
// plan after a process restart. Running steps are marked pending on load
// since they will re-run (§4.9's State persistence clause).
type State struct {
	Plan            plan.Portable   `json:"plan"`
	Checkpoints     []string        `json:"checkpoint_ids"` // ordered
	CurrentStepID   string          `json:"current_step_id,omitempty"`
	Paused          bool            `json:"paused"`
	CancelRequested bool            `json:"cancel_requested"`
	ExecutionLog    []ProgressEvent `json:"execution_log"`
}

// run tracks one in-flight plan's control flags and execution log.
type run struct {
	mu              sync.Mutex
	paused          bool
	cancelRequested bool
	currentStepID   string
	log             []ProgressEvent
}

// ObservationExtractor pulls findings/insights/lessons out of a step's
// output text. memory.ObservationExtractor satisfies this.
type ObservationExtractor interface {
	Extract(ctx context.Context, stepName, stepType, output string) (interface{}, error)
}

// ObservationStore persists whatever an ObservationExtractor produces.
// memory.BleveObservationStore satisfies this.
type ObservationStore interface {
	StoreObservation(ctx context.Context, obs interface{}) error
}

// Engine executes plans against a shared tool executor and checkpoint
// store. One Engine can drive many concurrent plan runs.
type Engine struct {
	executor    Executor
	checkpoints *checkpoint.Store
	log         *logging.Logger

	obsExtractor ObservationExtractor
	obsStore     ObservationStore

	mu   sync.Mutex
	runs map[string]*run
}

// New constructs an Engine.
func New(executor Executor, checkpoints *checkpoint.Store) *Engine {
	return &Engine{
		executor:    executor,
		checkpoints: checkpoints,
		log:         logging.New().WithComponent("workflow"),
		runs:        make(map[string]*run),
	}
}

// WithObservations enables best-effort observation extraction: after each
// step completes, its stdout is summarised into findings/insights/lessons
// and stored in semantic memory for later recall. Off by default: an
// Engine built via New never calls either collaborator.
func (e *Engine) WithObservations(extractor ObservationExtractor, store ObservationStore) *Engine {
	e.obsExtractor = extractor
	e.obsStore = store
	return e
}

func (e *Engine) runFor(planID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[planID]
	if !ok {
		r = &run{}
		e.runs[planID] = r
	}
	return r
}

// Pause sets the pause flag consulted at the next step boundary.
func (e *Engine) Pause(planID string) {
	r := e.runFor(planID)
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume clears the pause flag.
func (e *Engine) Resume(planID string) {
	r := e.runFor(planID)
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

// Cancel sets the cancel flag. It does not interrupt a running step; it
// prevents the next one from starting.
func (e *Engine) Cancel(planID string) {
	r := e.runFor(planID)
	r.mu.Lock()
	r.cancelRequested = true
	r.mu.Unlock()
}

// ExecutionLog returns the accumulated progress events for planID.
func (e *Engine) ExecutionLog(planID string) []ProgressEvent {
	r := e.runFor(planID)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEvent, len(r.log))
	copy(out, r.log)
	return out
}

func (e *Engine) emit(r *run, progress ProgressFunc, planID, stepID string, evtType session.EventType) {
	evt := ProgressEvent{PlanID: planID, StepID: stepID, Event: evtType, Timestamp: time.Now()}
	r.mu.Lock()
	r.log = append(r.log, evt)
	r.mu.Unlock()
	if progress != nil {
		progress(evt)
	}
}

// Execute runs p to completion or failure, per §4.9's algorithm.
// Preconditions: p.Approved and a clean Validate(); otherwise it fails
// immediately without mutating any state.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, knownAgents map[string]bool, progress ProgressFunc) (bool, string) {
	if !p.Approved {
		return false, "plan is not approved"
	}
	if errs := p.Validate(knownAgents); len(errs) > 0 {
		return false, fmt.Sprintf("plan failed validation: %v", errs[0])
	}

	order, err := p.ExecutionOrder()
	if err != nil {
		return false, err.Error()
	}

	ctx, planSpan := e.startPlanSpan(ctx, p.ID, len(order))
	defer func() { e.endPlanSpan(planSpan, string(p.Status)) }()

	r := e.runFor(p.ID)
	p.Status = plan.StatusRunning

	for _, step := range order {
		r.mu.Lock()
		cancelled := r.cancelRequested
		r.currentStepID = step.ID
		r.mu.Unlock()

		if cancelled {
			step.Status = plan.StepSkipped
			e.rollback(p, r, progress)
			p.Status = plan.StatusCancelled
			return false, "cancelled"
		}

		if err := e.waitWhilePaused(ctx, r); err != nil {
			p.Status = plan.StatusCancelled
			return false, err.Error()
		}

		if toolexec.IsMutating(step.Tool, step.Arguments) {
			paths, err := e.canonicalTouchedPaths(step)
			if err != nil {
				step.Status = plan.StepFailed
				p.Status = plan.StatusFailed
				e.rollback(p, r, progress)
				return false, fmt.Sprintf("checkpoint path resolution failed: %v", err)
			}
			if _, err := e.checkpoints.Create(p.ID, step.ID, paths); err != nil {
				step.Status = plan.StepFailed
				p.Status = plan.StatusFailed
				e.rollback(p, r, progress)
				return false, fmt.Sprintf("checkpoint creation failed: %v", err)
			}
			e.emit(r, progress, p.ID, step.ID, session.EventCheckpointCreated)
		}

		started := time.Now()
		step.StartedAt = &started
		step.Status = plan.StepRunning
		e.emit(r, progress, p.ID, step.ID, session.EventStepStarted)

		result, ok := e.attemptStep(ctx, step)
		finished := time.Now()
		step.FinishedAt = &finished
		step.Result = &result

		if !ok {
			step.Status = plan.StepFailed
			e.emit(r, progress, p.ID, step.ID, session.EventStepFailed)
			p.Status = plan.StatusFailed
			e.rollback(p, r, progress)
			return false, result.Error
		}

		step.Status = plan.StepCompleted
		e.emit(r, progress, p.ID, step.ID, session.EventStepCompleted)
		e.extractObservations(ctx, step, result.Stdout)
	}

	p.Status = plan.StatusCompleted
	if err := e.checkpoints.DiscardPlan(p.ID); err != nil {
		e.log.Warn("failed to discard checkpoints", map[string]interface{}{"plan_id": p.ID, "error": err.Error()})
	}
	e.emit(r, progress, p.ID, "", session.EventPlanCompleted)
	return true, "plan completed"
}

// attemptStep runs the step's tool up to maxAttempts times with a bounded
// linear back-off between attempts, per §4.9(e).
func (e *Engine) attemptStep(ctx context.Context, step *plan.Step) (toolexec.Result, bool) {
	ctx, span := e.startStepSpan(ctx, step.ID, string(step.Tool))

	var result toolexec.Result
	args := e.coercePathArgs(step)

	for {
		result = e.executor.Dispatch(ctx, step.Tool, args)
		step.Attempts++
		if result.Success {
			e.endStepSpan(span, step.Attempts, true, "")
			return result, true
		}
		if step.Attempts >= maxAttempts {
			e.endStepSpan(span, step.Attempts, false, result.Error)
			return result, false
		}
		backoff := time.Duration(step.Attempts) * baseBackoff
		select {
		case <-ctx.Done():
			result.Error = "cancelled during retry back-off"
			e.endStepSpan(span, step.Attempts, false, result.Error)
			return result, false
		case <-time.After(backoff):
		}
	}
}

// coercePathArgs type-coerces string path arguments to canonical paths
// before invocation, per §4.9(d). Missing or malformed paths are left as
// given; the executor's own containment check will reject them.
func (e *Engine) coercePathArgs(step *plan.Step) map[string]interface{} {
	out := make(map[string]interface{}, len(step.Arguments))
	for k, v := range step.Arguments {
		out[k] = v
	}
	if raw, ok := out["path"].(string); ok {
		if canon, err := e.executor.CanonicalPath(raw); err == nil {
			out["path"] = canon
		}
	}
	return out
}

func (e *Engine) canonicalTouchedPaths(step *plan.Step) ([]string, error) {
	raw := toolexec.TouchedPaths(step.Tool, step.Arguments)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		canon, err := e.executor.CanonicalPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, canon)
	}
	return out, nil
}

// extractObservations best-effort extracts and stores findings from a
// completed step's output. Failures are logged, never surfaced: this is
// passive recall assistance, not part of the execution contract.
func (e *Engine) extractObservations(ctx context.Context, step *plan.Step, output string) {
	if e.obsExtractor == nil || e.obsStore == nil {
		return
	}
	obs, err := e.obsExtractor.Extract(ctx, step.ID, string(step.Tool), output)
	if err != nil || obs == nil {
		return
	}
	if err := e.obsStore.StoreObservation(ctx, obs); err != nil {
		e.log.Warn("failed to store observation", map[string]interface{}{"step_id": step.ID, "error": err.Error()})
	}
}

// rollback restores every checkpoint created for p's run, in reverse
// order. Rollback failures are logged but never change the (false, ...)
// return the caller already committed to.
func (e *Engine) rollback(p *plan.Plan, r *run, progress ProgressFunc) {
	e.emit(r, progress, p.ID, "", session.EventRollbackStarted)
	if err := e.checkpoints.RollbackPlan(p.ID); err != nil {
		e.log.Error("rollback failed", map[string]interface{}{"plan_id": p.ID, "error": err.Error()})
	}
	e.emit(r, progress, p.ID, "", session.EventRollbackCompleted)
}

func (e *Engine) waitWhilePaused(ctx context.Context, r *run) error {
	for {
		r.mu.Lock()
		paused := r.paused
		r.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollTick):
		}
	}
}

// SaveState serialises p and the run's control flags to a portable State.
func (e *Engine) SaveState(p *plan.Plan) State {
	r := e.runFor(p.ID)
	r.mu.Lock()
	defer r.mu.Unlock()

	checkpoints := e.checkpoints.ForPlan(p.ID)
	ids := make([]string, len(checkpoints))
	for i, cp := range checkpoints {
		ids[i] = cp.ID
	}

	return State{
		Plan:            p.ToPortable(),
		Checkpoints:     ids,
		CurrentStepID:   r.currentStepID,
		Paused:          r.paused,
		CancelRequested: r.cancelRequested,
		ExecutionLog:    append([]ProgressEvent(nil), r.log...),
	}
}

// LoadState reconstructs a Plan from a saved State, marking any step that
// was running at save time back to pending so it re-runs.
func LoadState(s State) *plan.Plan {
	p := plan.FromPortable(s.Plan)
	for _, step := range p.Steps {
		if step.Status == plan.StepRunning {
			step.Status = plan.StepPending
		}
	}
	return p
}
