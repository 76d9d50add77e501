// Package orchestrator drives the outer task FSM end to end: invoking the
// right agent runner per state, awaiting human decisions via the command
// bus at approval gates, applying git side effects, consuming dynamic
// prompt injections at inter-agent boundaries, and writing checkpoints at
// milestones.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/durch/agneto/internal/agentrole"
	"github.com/durch/agneto/internal/checkpoint"
	"github.com/durch/agneto/internal/command"
	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/gitutil"
	"github.com/durch/agneto/internal/hooks"
	"github.com/durch/agneto/internal/injection"
	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/session"
	"github.com/durch/agneto/internal/taskfsm"
	"github.com/durch/agneto/internal/verdict"
)

// Deps bundles every external collaborator the orchestrator needs. Fields
// left nil take a usable zero-cost default where one exists (command bus,
// injection queue, and an in-memory PlansFS); Client and Git are required.
type Deps struct {
	Client      model.Client
	Git         *gitutil.Repo
	Commands    *command.Bus
	Events      hooks.Bus
	Sessions    session.Store
	Checkpoints checkpoint.Store
	Injection   *injection.Queue
	PlansFS     afero.Fs
	ModelName   string
}

// Orchestrator drives one task's outer FSM to completion.
type Orchestrator struct {
	task *taskfsm.FSM
	deps Deps

	checkpointSeq int
}

// New constructs an Orchestrator for the given task FSM.
func New(task *taskfsm.FSM, deps Deps) *Orchestrator {
	if deps.Commands == nil {
		deps.Commands = command.NewBus()
	}
	if deps.Injection == nil {
		deps.Injection = injection.NewQueue()
	}
	if deps.PlansFS == nil {
		deps.PlansFS = afero.NewMemMapFs()
	}
	return &Orchestrator{task: task, deps: deps}
}

// Run drives the outer FSM until it reaches a terminal state, merging to the
// default branch on completion when AutoMerge is set.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.task.StartTask()
	for !o.task.State().Terminal() {
		if err := o.step(ctx); err != nil {
			o.task.ErrorOccurred(err)
			// Best-effort: a failing checkpoint write must not mask the
			// original error or block the FSM's own error handling.
			_ = o.writeCheckpoint(ctx, checkpoint.TriggerError)
			continue
		}
	}
	snap := o.task.Snapshot()
	if o.task.State() == taskfsm.Complete && snap.Options.AutoMerge && o.deps.Git != nil {
		branch, err := o.deps.Git.CurrentBranch(ctx)
		if err == nil {
			if err := o.deps.Git.Merge(ctx, branch, defaultBranch); err != nil {
				return fmt.Errorf("orchestrator: auto-merge: %w", err)
			}
		}
	}
	return nil
}

// defaultBranch is the branch --auto-merge targets. The git helper interface
// does not carry branch discovery beyond the current branch, so this is
// fixed rather than detected.
const defaultBranch = "main"

func (o *Orchestrator) step(ctx context.Context) error {
	switch o.task.State() {
	case taskfsm.Refining:
		return o.runRefining(ctx)
	case taskfsm.Planning:
		return o.runPlanning(ctx)
	case taskfsm.Curmudgeoning:
		return o.runCurmudgeoning(ctx)
	case taskfsm.Executing:
		return o.runExecuting(ctx)
	case taskfsm.SuperReviewing:
		return o.runSuperReviewing(ctx)
	case taskfsm.Gardening:
		return o.runGardening(ctx)
	default:
		return fmt.Errorf("orchestrator: no handler for state %q", o.task.State())
	}
}

// consumeInjection checks for a pending injection at this inter-agent
// boundary and, if present, returns it as a leading user message.
func (o *Orchestrator) consumeInjection(taskID string) []model.Message {
	text, ok := o.deps.Injection.Consume(taskID)
	if !ok {
		return nil
	}
	return []model.Message{agentrole.UserMessage(text)}
}

func (o *Orchestrator) sessionRef(ctx context.Context, taskID string, role session.Role) session.Ref {
	ref, err := o.deps.Sessions.Load(ctx, taskID, role)
	if err == nil {
		return ref
	}
	return session.Ref{TaskID: taskID, Role: role, SessionID: uuid.NewString()}
}

func (o *Orchestrator) saveSession(ctx context.Context, ref session.Ref) {
	ref.IsInitialized = true
	_ = o.deps.Sessions.Save(ctx, ref)
}

func (o *Orchestrator) callbacks(taskID string) agentrole.Callbacks {
	return agentrole.Callbacks{
		OnProgress:   func(text string) { o.task.SetLiveActivity(text) },
		OnToolUse:    func(tool, _ string) { o.task.SetToolStatus(tool, false) },
		OnToolResult: func(isError bool) { o.task.SetToolStatus("", isError) },
	}
}

func (o *Orchestrator) plansDir(taskID string) string {
	return filepath.Join(".plans", taskID)
}

func (o *Orchestrator) writePlan(taskID, markdown string) (string, error) {
	dir := o.plansDir(taskID)
	if err := o.deps.PlansFS.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "plan.md")
	if err := afero.WriteFile(o.deps.PlansFS, path, []byte(markdown), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// writeCheckpoint builds and persists a checkpoint at a milestone. Failures
// are returned so ERROR_OCCURRED policy applies consistently with other
// suspension points.
func (o *Orchestrator) writeCheckpoint(ctx context.Context, trigger checkpoint.Trigger) error {
	if o.deps.Checkpoints == nil {
		return nil
	}
	snap := o.task.Snapshot()
	head, err := o.deps.Git.HeadCommit(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reading HEAD for checkpoint: %w", err)
	}
	branch, _ := o.deps.Git.CurrentBranch(ctx)

	var sessions []session.Ref
	for _, role := range []session.Role{session.RoleRefiner, session.RoleBeanCounter, session.RoleCoder, session.RoleReviewer} {
		if ref, err := o.deps.Sessions.Load(ctx, snap.TaskID, role); err == nil {
			sessions = append(sessions, ref)
		}
	}

	fs := checkpoint.FileSystemSnapshot{Branch: branch, BaselineCommit: snap.BaselineCommit}
	if snap.BaselineCommit != "" && head != snap.BaselineCommit {
		fs.TaskCommits = []checkpoint.CommitRecord{{Hash: head}}
	}

	cp := checkpoint.Build(o.checkpointSeq+1, trigger, snap, o.task.State(), o.task.Exec(), sessions, fs, true)

	written, err := o.deps.Checkpoints.Write(ctx, snap.TaskID, cp)
	if err != nil {
		return err
	}
	o.checkpointSeq = written.Number
	return nil
}

func toChunkMessages(baseMsgs []model.Message, chunk verdict.Chunk) []model.Message {
	return append(baseMsgs, agentrole.UserMessage(fmt.Sprintf(
		"[NEXT_CHUNKING]\nDescription: %s\nRequirements: %v\nContext: %s",
		chunk.Description, chunk.Requirements, chunk.Context,
	)))
}
