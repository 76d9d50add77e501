// Package execfsm implements the inner execution state machine: the
// bean-counting/plan/review/code/review cycle that the outer task state
// machine delegates to for one execution phase.
package execfsm

import (
	"fmt"
	"sync"

	"github.com/durch/agneto/internal/verdict"
)

// State is one of the inner FSM's states.
type State string

const (
	TaskStart    State = "TASK_START"
	BeanCounting State = "BEAN_COUNTING"
	Planning     State = "PLANNING"
	PlanReview   State = "PLAN_REVIEW"
	Implementing State = "IMPLEMENTING"
	CodeReview   State = "CODE_REVIEW"
	TaskComplete State = "TASK_COMPLETE"
	TaskFailed   State = "TASK_FAILED"
	TaskAborted  State = "TASK_ABORTED"
)

func (s State) Terminal() bool {
	switch s {
	case TaskComplete, TaskFailed, TaskAborted:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts is the configurable attempt ceiling per phase, used
// when Context.MaxPlanAttempts / MaxCodeAttempts are left at zero.
const DefaultMaxAttempts = 7

// Context is the inner FSM's mutable state, owned exclusively by this
// package's setters; readers obtain copies via Snapshot.
type Context struct {
	CurrentChunk *verdict.Chunk
	CurrentPlan  *verdict.CoderPlan

	PlanFeedback string
	CodeFeedback string

	PlanAttempts int
	CodeAttempts int

	MaxPlanAttempts int
	MaxCodeAttempts int

	LastError error
}

func (c *Context) maxPlan() int {
	if c.MaxPlanAttempts > 0 {
		return c.MaxPlanAttempts
	}
	return DefaultMaxAttempts
}

func (c *Context) maxCode() int {
	if c.MaxCodeAttempts > 0 {
		return c.MaxCodeAttempts
	}
	return DefaultMaxAttempts
}

// Snapshot is an immutable copy of Context safe to hand to readers outside
// the FSM's lock.
type Snapshot struct {
	Context
}

// FSM drives the inner execution cycle for a single chunked execution phase.
// It is not safe for concurrent use from more than one goroutine; the
// orchestrator drives it single-threaded per the cooperative scheduling
// model.
type FSM struct {
	mu    sync.Mutex
	state State
	ctx   Context
}

// New constructs an inner FSM in TASK_START with a fresh Context.
func New(maxPlanAttempts, maxCodeAttempts int) *FSM {
	return &FSM{
		state: TaskStart,
		ctx: Context{
			MaxPlanAttempts: maxPlanAttempts,
			MaxCodeAttempts: maxCodeAttempts,
		},
	}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns a copy of the current execution context.
func (f *FSM) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{Context: f.ctx}
}

// StartChunking transitions TASK_START -> BEAN_COUNTING.
func (f *FSM) StartChunking() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = BeanCounting
}

// ChunkReceived applies a Bean Counter verdict: a WORK_CHUNK moves to
// PLANNING with the chunk recorded; TASK_COMPLETE moves to the terminal
// TASK_COMPLETE state.
func (f *FSM) ChunkReceived(chunk verdict.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch chunk.Kind {
	case verdict.ChunkWork:
		f.ctx.CurrentChunk = &chunk
		f.state = Planning
	case verdict.ChunkTaskComplete:
		f.state = TaskComplete
	default:
		panic(fmt.Sprintf("execfsm: unknown chunk kind %q", chunk.Kind))
	}
}

// PlanProposed records a Coder plan proposal, incrementing planAttempts, and
// moves PLANNING -> PLAN_REVIEW.
func (f *FSM) PlanProposed(plan verdict.CoderPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.CurrentPlan = &plan
	f.ctx.PlanAttempts++
	f.state = PlanReview
}

// PlanVerdict applies a Reviewer plan verdict. needs-human is the caller's
// responsibility to resolve into one of the other kinds via the command bus
// before calling this method again; this method never blocks.
func (f *FSM) PlanVerdict(v verdict.Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v.Kind {
	case verdict.PlanApprove:
		f.ctx.CodeAttempts = 0
		f.state = Implementing
	case verdict.PlanRevise:
		f.ctx.PlanFeedback = v.Feedback
		if f.ctx.PlanAttempts >= f.ctx.maxPlan() {
			f.state = TaskFailed
			return
		}
		f.state = Planning
	case verdict.PlanReject:
		f.ctx.PlanFeedback = v.Feedback
		f.ctx.PlanAttempts = 0
		f.state = Planning
	case verdict.PlanAlreadyComplete:
		f.state = TaskComplete
	default:
		panic(fmt.Sprintf("execfsm: unexpected plan verdict kind %q in PlanVerdict", v.Kind))
	}
}

// CodeApplied records that the Coder finished applying code for the current
// plan and moves IMPLEMENTING -> CODE_REVIEW.
func (f *FSM) CodeApplied() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = CodeReview
}

// CodeVerdict applies a Reviewer code verdict.
func (f *FSM) CodeVerdict(v verdict.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v.Kind {
	case verdict.CodeApprove, verdict.CodeStepComplete:
		f.ctx.PlanAttempts = 0
		f.ctx.CodeAttempts = 0
		f.ctx.CurrentPlan = nil
		f.ctx.CurrentChunk = nil
		f.ctx.PlanFeedback = ""
		f.ctx.CodeFeedback = ""
		f.state = BeanCounting
	case verdict.CodeTaskComplete:
		f.state = TaskComplete
	case verdict.CodeRevise:
		f.ctx.CodeFeedback = v.Feedback
		if f.ctx.CodeAttempts >= f.ctx.maxCode() {
			f.state = TaskFailed
			return
		}
		f.ctx.CodeAttempts++
		f.state = Implementing
	case verdict.CodeReject:
		f.ctx.CodeFeedback = v.Feedback
		f.ctx.CurrentPlan = nil
		f.ctx.CurrentChunk = nil
		f.ctx.PlanAttempts = 0
		f.ctx.CodeAttempts = 0
		f.state = BeanCounting
	default:
		panic(fmt.Sprintf("execfsm: unexpected code verdict kind %q in CodeVerdict", v.Kind))
	}
}

// Abort moves any non-terminal state to TASK_ABORTED.
func (f *FSM) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Terminal() {
		return
	}
	f.state = TaskAborted
}

// ErrorOccurred applies the state-sensitive error policy: in the
// planning/plan-review phase it retries planning with synthesized feedback
// until attempts are exhausted, then fails; symmetrically for the
// implementing/code-review phase. All other states fail immediately.
func (f *FSM) ErrorOccurred(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.LastError = err
	switch f.state {
	case Planning, PlanReview:
		if f.ctx.PlanAttempts >= f.ctx.maxPlan() {
			f.state = TaskFailed
			return
		}
		f.ctx.PlanFeedback = fmt.Sprintf("previous attempt errored: %v", err)
		f.state = Planning
	case Implementing, CodeReview:
		if f.ctx.CodeAttempts >= f.ctx.maxCode() {
			f.state = TaskFailed
			return
		}
		f.ctx.CodeFeedback = fmt.Sprintf("previous attempt errored: %v", err)
		f.state = Implementing
	default:
		f.state = TaskFailed
	}
}

// RestoreFromCheckpoint rehydrates the FSM into an explicit state and
// context, validating that the named state is one of the known enum values.
func RestoreFromCheckpoint(stateName string, ctx Context) (*FSM, error) {
	s := State(stateName)
	switch s {
	case TaskStart, BeanCounting, Planning, PlanReview, Implementing, CodeReview, TaskComplete, TaskFailed, TaskAborted:
	default:
		return nil, fmt.Errorf("execfsm: unknown state %q in checkpoint", stateName)
	}
	return &FSM{state: s, ctx: ctx}, nil
}
