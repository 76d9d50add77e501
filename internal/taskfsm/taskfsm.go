// Package taskfsm implements the outer task lifecycle state machine that
// owns an inner execfsm.FSM as a sub-state during the EXECUTING phase.
package taskfsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/hooks"
	"github.com/durch/agneto/internal/verdict"
)

// State is one of the outer FSM's states.
type State string

const (
	Init            State = "INIT"
	Refining        State = "REFINING"
	Planning        State = "PLANNING"
	Curmudgeoning   State = "CURMUDGEONING"
	Executing       State = "EXECUTING"
	SuperReviewing  State = "SUPER_REVIEWING"
	Gardening       State = "GARDENING"
	Complete        State = "COMPLETE"
	Abandoned       State = "ABANDONED"
)

func (s State) Terminal() bool {
	return s == Complete || s == Abandoned
}

// Options carries task-level configuration fixed for the task's lifetime.
type Options struct {
	AutoMerge      bool
	NonInteractive bool
}

// MaxSimplifications bounds the PLANNING <-> CURMUDGEONING loop per the
// curmudgeon-gating live-lock guard: once simplificationCount reaches this
// bound the plan proceeds to EXECUTING regardless of verdict.
const MaxSimplifications = 4

// Context is the outer FSM's mutable state, owned exclusively by this
// package's setters.
type Context struct {
	TaskID           string
	HumanTask        string
	RefinedTask      string
	TaskToUse        string

	WorkingDirectory string
	BaselineCommit   string

	PlanMarkdown string
	PlanPath     string

	CurmudgeonFeedback  string
	SimplificationCount int

	SuperReviewResult *verdict.SuperReview
	RetryFeedback     string

	Options Options

	LiveActivity string
	ToolStatus   string

	PendingInjection        string
	InjectionPauseRequested bool

	LastError error
}

// Snapshot is an immutable copy of Context handed to readers.
type Snapshot struct {
	Context
}

// FSM drives the outer task lifecycle, delegating to an inner execfsm.FSM
// while in the EXECUTING state. It is driven single-threaded by the
// orchestrator; all suspension happens at explicit await points outside this
// type.
type FSM struct {
	mu    sync.Mutex
	state State
	ctx   Context
	exec  *execfsm.FSM
	bus   hooks.Bus
}

// New constructs an outer FSM in INIT for the given task.
func New(taskID, humanTask, workingDirectory string, opts Options, bus hooks.Bus) *FSM {
	return &FSM{
		state: Init,
		ctx: Context{
			TaskID:           taskID,
			HumanTask:        humanTask,
			WorkingDirectory: workingDirectory,
			Options:          opts,
		},
		bus: bus,
	}
}

// State returns the current outer state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns a copy of the current task context.
func (f *FSM) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{Context: f.ctx}
}

// Exec returns the inner execution FSM, or nil before EXECUTING is entered
// for the first time.
func (f *FSM) Exec() *execfsm.FSM {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exec
}

func (f *FSM) transition(from, to State) {
	f.state = to
	now := time.Now()
	f.emit(hooks.StateChanged{TaskID: f.ctx.TaskID, From: string(from), To: string(to), At: now})
	f.emit(hooks.PhaseChanged{TaskID: f.ctx.TaskID, Phase: string(to)})
}

func (f *FSM) emit(e hooks.Event) {
	if f.bus == nil {
		return
	}
	// Best-effort fan-out: a subscriber error does not prevent the FSM from
	// proceeding, matching the documented fan-out delivery semantics.
	_ = f.bus.Publish(context.Background(), e)
}

// StartTask applies START_TASK: INIT -> REFINING (interactive) or PLANNING
// (non-interactive, with taskToUse set to humanTask directly).
func (f *FSM) StartTask() {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.state
	if f.ctx.Options.NonInteractive {
		f.ctx.TaskToUse = f.ctx.HumanTask
		f.transition(from, Planning)
		return
	}
	f.transition(from, Refining)
}

// RefinementReady records a new refined draft from the Refiner without
// transitioning; the outer FSM stays in REFINING awaiting human approval.
func (f *FSM) RefinementReady(refined string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.RefinedTask = refined
	f.ctx.TaskToUse = refined
	f.emit(hooks.RefinementReady{TaskID: f.ctx.TaskID, RefinedTask: refined})
}

// RefinementComplete applies REFINEMENT_COMPLETE: REFINING -> PLANNING.
// refinedTask and taskToUse must already have been set via RefinementReady.
func (f *FSM) RefinementComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(f.state, Planning)
}

// RefinementCancelled applies REFINEMENT_CANCELLED: REFINING -> PLANNING,
// falling back to the original human-authored task text.
func (f *FSM) RefinementCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.TaskToUse = f.ctx.HumanTask
	f.transition(f.state, Planning)
}

// PlanCreated applies PLAN_CREATED: PLANNING -> CURMUDGEONING.
func (f *FSM) PlanCreated(markdown, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.PlanMarkdown = markdown
	f.ctx.PlanPath = path
	f.emit(hooks.PlanReady{TaskID: f.ctx.TaskID, PlanMarkdown: markdown, PlanPath: path})
	f.transition(f.state, Curmudgeoning)
}

// PlanFailed applies PLAN_FAILED: PLANNING -> ABANDONED.
func (f *FSM) PlanFailed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.LastError = err
	f.transition(f.state, Abandoned)
}

// CurmudgeonVerdict applies a curmudgeon verdict. approve moves to
// EXECUTING; simplify below MaxSimplifications loops back to PLANNING with
// feedback recorded and simplificationCount incremented; simplify at or
// above the bound proceeds to EXECUTING anyway (documented degradation);
// reject folds feedback and returns to PLANNING without incrementing the
// bound counter.
func (f *FSM) CurmudgeonVerdict(v verdict.Curmudgeon) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(hooks.CurmudgeonFeedback{TaskID: f.ctx.TaskID, Kind: string(v.Kind), Feedback: v.Feedback})
	switch v.Kind {
	case verdict.CurmudgeonApprove:
		f.enterExecuting()
	case verdict.CurmudgeonSimplify:
		f.ctx.CurmudgeonFeedback = v.Feedback
		f.ctx.SimplificationCount++
		if f.ctx.SimplificationCount >= MaxSimplifications {
			f.enterExecuting()
			return
		}
		f.transition(f.state, Planning)
	case verdict.CurmudgeonReject:
		f.ctx.CurmudgeonFeedback = v.Feedback
		f.transition(f.state, Planning)
	default:
		panic(fmt.Sprintf("taskfsm: unexpected curmudgeon verdict kind %q", v.Kind))
	}
}

func (f *FSM) enterExecuting() {
	f.exec = execfsm.New(0, 0)
	f.exec.StartChunking()
	f.transition(f.state, Executing)
}

// ExecutionComplete applies EXECUTION_COMPLETE: EXECUTING -> SUPER_REVIEWING.
func (f *FSM) ExecutionComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(f.state, SuperReviewing)
}

// ExecutionFailed applies EXECUTION_FAILED: EXECUTING -> ABANDONED.
func (f *FSM) ExecutionFailed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.LastError = err
	f.transition(f.state, Abandoned)
}

// SuperReviewVerdict records a SuperReviewer verdict. approve moves to
// GARDENING; needs-human stays in SUPER_REVIEWING and emits the awaiting
// event for the orchestrator to await a human decision.
func (f *FSM) SuperReviewVerdict(v verdict.SuperReview) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.SuperReviewResult = &v
	f.emit(hooks.SuperReviewComplete{TaskID: f.ctx.TaskID, Kind: string(v.Kind), Summary: v.Summary, Issues: v.Issues})
	switch v.Kind {
	case verdict.SuperReviewApprove:
		f.transition(f.state, Gardening)
	case verdict.SuperReviewNeedsHuman:
		f.emit(hooks.SuperReviewAwaitingApproval{TaskID: f.ctx.TaskID, Summary: v.Summary, Issues: v.Issues})
	default:
		panic(fmt.Sprintf("taskfsm: unexpected super-review verdict kind %q", v.Kind))
	}
}

// HumanApproved applies HUMAN_APPROVED: SUPER_REVIEWING -> GARDENING.
func (f *FSM) HumanApproved() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(f.state, Gardening)
}

// HumanRetry applies HUMAN_RETRY: SUPER_REVIEWING -> PLANNING, recording
// retryFeedback for the next plan attempt.
func (f *FSM) HumanRetry(feedback string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.RetryFeedback = feedback
	f.transition(f.state, Planning)
}

// HumanAbandon applies HUMAN_ABANDON: SUPER_REVIEWING -> ABANDONED.
func (f *FSM) HumanAbandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(f.state, Abandoned)
}

// GardeningComplete applies GARDENING_COMPLETE: GARDENING -> COMPLETE. It is
// called regardless of the Gardener's internal success flag, matching the
// policy that gardening failures are logged, never fatal.
func (f *FSM) GardeningComplete(result verdict.Gardener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(hooks.GardenerComplete{
		TaskID:          f.ctx.TaskID,
		Success:         result.Success,
		SectionsUpdated: result.SectionsUpdated,
		Error:           result.Error,
	})
	f.transition(f.state, Complete)
}

// ErrorOccurred applies ERROR_OCCURRED from any non-terminal outer state. In
// EXECUTING it forwards to the inner FSM's own error policy and only fails
// the outer FSM if the inner FSM lands in TASK_FAILED with no attempts left;
// in all other outer states it moves directly to ABANDONED.
func (f *FSM) ErrorOccurred(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.LastError = err
	if f.state == Executing && f.exec != nil {
		f.exec.ErrorOccurred(err)
		if f.exec.State() == execfsm.TaskFailed {
			f.transition(f.state, Abandoned)
		}
		return
	}
	f.transition(f.state, Abandoned)
}

// HumanAbort moves the task to ABANDONED from any non-terminal state,
// aborting the inner FSM first if one is active.
func (f *FSM) HumanAbort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exec != nil {
		f.exec.Abort()
	}
	if f.state.Terminal() {
		return
	}
	f.transition(f.state, Abandoned)
}

// RequestInjectionPause flags that a human has asked to steer the in-flight
// agent call and emits injection:pause:requested.
func (f *FSM) RequestInjectionPause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.InjectionPauseRequested = true
	f.emit(hooks.InjectionPauseRequested{TaskID: f.ctx.TaskID})
}

// SetPendingInjection stores submitted injection text, clearing the pause
// flag.
func (f *FSM) SetPendingInjection(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.PendingInjection = text
	f.ctx.InjectionPauseRequested = false
}

// ConsumePendingInjection returns and clears any queued injection text. It
// must only be called at an inter-agent boundary.
func (f *FSM) ConsumePendingInjection() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := f.ctx.PendingInjection
	if text == "" {
		return "", false
	}
	f.ctx.PendingInjection = ""
	return text, true
}

// SetLiveActivity records a streamed progress projection and emits
// activity:updated.
func (f *FSM) SetLiveActivity(activity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.LiveActivity = activity
	f.emit(hooks.ActivityUpdated{TaskID: f.ctx.TaskID, Activity: activity})
}

// SetToolStatus records the most recent tool-use/tool-result callback and
// emits tool:status.
func (f *FSM) SetToolStatus(tool string, isError bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.ToolStatus = tool
	f.emit(hooks.ToolStatus{TaskID: f.ctx.TaskID, Tool: tool, IsError: isError})
}

// AskQuestion emits question:asked during the refinement interview.
func (f *FSM) AskQuestion(question string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(hooks.QuestionAsked{TaskID: f.ctx.TaskID, Question: question})
}

// EmitPlanAwaitingApproval emits plan:awaiting_approval ahead of an
// awaitCommand on the plan:{approve,reject} types.
func (f *FSM) EmitPlanAwaitingApproval() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(hooks.PlanAwaitingApproval{TaskID: f.ctx.TaskID, PlanMarkdown: f.ctx.PlanMarkdown})
}

// EmitRefinementAwaitingApproval emits refinement:awaiting_approval ahead of
// an awaitCommand on the refinement:{approve,reject} types.
func (f *FSM) EmitRefinementAwaitingApproval() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(hooks.RefinementAwaitingApproval{TaskID: f.ctx.TaskID, RefinedTask: f.ctx.RefinedTask})
}

// SetBaselineCommit records HEAD at task start. The revert helper must never
// wind the worktree back past this commit.
func (f *FSM) SetBaselineCommit(commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx.BaselineCommit = commit
}

// RestoreFromCheckpoint rehydrates the outer FSM (and, if present, the inner
// FSM) from checkpoint data, validating the named state against the known
// enum values.
func RestoreFromCheckpoint(stateName string, ctx Context, execState string, execCtx *execfsm.Context, bus hooks.Bus) (*FSM, error) {
	s := State(stateName)
	switch s {
	case Init, Refining, Planning, Curmudgeoning, Executing, SuperReviewing, Gardening, Complete, Abandoned:
	default:
		return nil, fmt.Errorf("taskfsm: unknown state %q in checkpoint", stateName)
	}
	f := &FSM{state: s, ctx: ctx, bus: bus}
	if execState != "" && execCtx != nil {
		exec, err := execfsm.RestoreFromCheckpoint(execState, *execCtx)
		if err != nil {
			return nil, err
		}
		f.exec = exec
	}
	return f, nil
}
