package checkpoint

import (
	"errors"
	"fmt"

	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/hooks"
	"github.com/durch/agneto/internal/taskfsm"
	"github.com/durch/agneto/internal/verdict"
)

// ErrIncompatible is returned by Restore when the checkpoint's schema
// version is unsupported, or its baseline commit can no longer be verified
// against the worktree.
var ErrIncompatible = errors.New("checkpoint: incompatible")

// CommitExists reports whether commit is reachable in the worktree at
// workingDirectory. It is satisfied by internal/gitutil in production and
// faked in tests.
type CommitExists func(workingDirectory, commit string) (bool, error)

// Restored is the rehydrated pair of FSMs plus the file-system snapshot a
// caller needs to reset and replay the worktree.
type Restored struct {
	Task       *taskfsm.FSM
	FileSystem FileSystemSnapshot
	Sessions   []SessionEntry
}

// Restore validates and rehydrates a Checkpoint into live FSM instances.
// It does not itself touch the worktree; callers reset to FileSystem and
// cherry-pick FileSystem.TaskCommits afterward.
func Restore(cp Checkpoint, taskID string, commitExists CommitExists, bus hooks.Bus) (Restored, error) {
	if !SupportedVersions[cp.Version] {
		return Restored{}, fmt.Errorf("%w: schema version %d not supported", ErrIncompatible, cp.Version)
	}
	if cp.TaskState.TaskID != taskID {
		return Restored{}, fmt.Errorf("%w: checkpoint task id %q does not match %q", ErrIncompatible, cp.TaskState.TaskID, taskID)
	}
	if cp.FileSystem.BaselineCommit != "" {
		ok, err := commitExists(cp.TaskState.WorkingDirectory, cp.FileSystem.BaselineCommit)
		if err != nil {
			return Restored{}, fmt.Errorf("checkpoint: verifying baseline commit: %w", err)
		}
		if !ok {
			return Restored{}, fmt.Errorf("%w: baseline commit %q not found in repository", ErrIncompatible, cp.FileSystem.BaselineCommit)
		}
	}

	ts := cp.TaskState
	ctx := taskfsm.Context{
		TaskID:                  ts.TaskID,
		HumanTask:               ts.HumanTask,
		RefinedTask:             ts.RefinedTask,
		TaskToUse:               ts.TaskToUse,
		WorkingDirectory:        ts.WorkingDirectory,
		BaselineCommit:          ts.BaselineCommit,
		PlanMarkdown:            ts.PlanMarkdown,
		PlanPath:                ts.PlanPath,
		CurmudgeonFeedback:      ts.CurmudgeonFeedback,
		SimplificationCount:     ts.SimplificationCount,
		RetryFeedback:           ts.RetryFeedback,
		Options:                 taskfsm.Options{AutoMerge: ts.AutoMerge, NonInteractive: ts.NonInteractive},
		PendingInjection:        ts.PendingInjection,
		InjectionPauseRequested: ts.InjectionPauseRequested,
		LastError:               restoredErr(ts.LastError),
	}
	if ts.SuperReviewKind != "" {
		ctx.SuperReviewResult = &verdict.SuperReview{
			Kind:    verdict.SuperReviewKind(ts.SuperReviewKind),
			Summary: ts.SuperReviewSummary,
			Issues:  ts.SuperReviewIssues,
		}
	}

	var execStateName string
	var execCtx *execfsm.Context
	if cp.ExecutionState != nil {
		es := cp.ExecutionState
		execStateName = string(es.State)
		ec := &execfsm.Context{
			PlanFeedback:    es.PlanFeedback,
			CodeFeedback:    es.CodeFeedback,
			PlanAttempts:    es.PlanAttempts,
			CodeAttempts:    es.CodeAttempts,
			MaxPlanAttempts: es.MaxPlanAttempts,
			MaxCodeAttempts: es.MaxCodeAttempts,
			LastError:       restoredErr(es.LastError),
		}
		if es.ChunkDescription != "" {
			ec.CurrentChunk = &verdict.Chunk{
				Kind:         verdict.ChunkWork,
				Description:  es.ChunkDescription,
				Requirements: es.ChunkRequirements,
				Context:      es.ChunkContext,
			}
		}
		if es.PlanDescription != "" {
			ec.CurrentPlan = &verdict.CoderPlan{
				Description:   es.PlanDescription,
				Steps:         es.PlanSteps,
				AffectedFiles: es.PlanAffectedFiles,
			}
		}
		execCtx = ec
	}

	task, err := taskfsm.RestoreFromCheckpoint(string(ts.State), ctx, execStateName, execCtx, bus)
	if err != nil {
		return Restored{}, err
	}
	return Restored{Task: task, FileSystem: cp.FileSystem, Sessions: cp.Sessions}, nil
}

func restoredErr(info *ErrorInfo) error {
	if info == nil {
		return nil
	}
	return errors.New(info.Message)
}
