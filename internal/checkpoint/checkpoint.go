// Package checkpoint serializes and restores full task context so an
// interrupted task can resume from its last recorded milestone. A checkpoint
// plus the worktree's reachable commits must be sufficient to resume: the
// file is self-describing and carries its own schema version.
package checkpoint

import (
	"time"

	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/session"
	"github.com/durch/agneto/internal/taskfsm"
)

// SchemaVersion is the current checkpoint schema version. Restore rejects
// any checkpoint whose Version is not in SupportedVersions.
const SchemaVersion = 1

// SupportedVersions is the set of schema versions Restore accepts.
var SupportedVersions = map[int]bool{1: true}

// Trigger names the milestone that caused a checkpoint write.
type Trigger string

const (
	TriggerPlanCreated  Trigger = "PLAN_CREATED"
	TriggerCodeApproved Trigger = "CODE_APPROVED"
	TriggerSuperReview  Trigger = "SUPER_REVIEW"
	TriggerError        Trigger = "ERROR"
)

// ErrorInfo captures an error in a serializable shape.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// SessionEntry is one role's session identity as recorded in a checkpoint.
type SessionEntry struct {
	Role          string `json:"role"`
	SessionID     string `json:"sessionId"`
	IsInitialized bool   `json:"isInitialized"`
}

// CommitRecord is one task-scoped commit recorded in the file-system
// snapshot, in application order.
type CommitRecord struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// FileSystemSnapshot captures the worktree state needed to verify and
// replay a checkpoint's commit history.
type FileSystemSnapshot struct {
	Branch         string         `json:"branch"`
	BaselineCommit string         `json:"baselineCommit"`
	TaskCommits    []CommitRecord `json:"taskCommits"`
}

// TaskStateSnapshot mirrors taskfsm.Context minus transient UI-only fields
// (liveActivity, toolStatus), plus the current outer state name.
type TaskStateSnapshot struct {
	State State `json:"state"`

	TaskID      string `json:"taskId"`
	HumanTask   string `json:"humanTask"`
	RefinedTask string `json:"refinedTask,omitempty"`
	TaskToUse   string `json:"taskToUse"`

	WorkingDirectory string `json:"workingDirectory"`
	BaselineCommit   string `json:"baselineCommit,omitempty"`

	PlanMarkdown string `json:"planMarkdown,omitempty"`
	PlanPath     string `json:"planPath,omitempty"`

	CurmudgeonFeedback  string `json:"curmudgeonFeedback,omitempty"`
	SimplificationCount int    `json:"simplificationCount"`

	SuperReviewKind    string   `json:"superReviewKind,omitempty"`
	SuperReviewSummary string   `json:"superReviewSummary,omitempty"`
	SuperReviewIssues  []string `json:"superReviewIssues,omitempty"`
	RetryFeedback      string   `json:"retryFeedback,omitempty"`

	AutoMerge      bool `json:"autoMerge"`
	NonInteractive bool `json:"nonInteractive"`

	PendingInjection        string `json:"pendingInjection,omitempty"`
	InjectionPauseRequested bool   `json:"injectionPauseRequested"`

	LastError *ErrorInfo `json:"lastError,omitempty"`
}

// State is a checkpoint-serializable state name, shared by both the
// task-state and execution-state snapshots (each enum's names are disjoint,
// so a single string type suffices for the wire format).
type State string

// ExecutionStateSnapshot mirrors execfsm.Context plus the inner state name.
// It is nil when the task has not yet entered EXECUTING.
type ExecutionStateSnapshot struct {
	State State `json:"state"`

	ChunkDescription  string   `json:"chunkDescription,omitempty"`
	ChunkRequirements []string `json:"chunkRequirements,omitempty"`
	ChunkContext      string   `json:"chunkContext,omitempty"`

	PlanDescription   string   `json:"planDescription,omitempty"`
	PlanSteps         []string `json:"planSteps,omitempty"`
	PlanAffectedFiles []string `json:"planAffectedFiles,omitempty"`

	PlanFeedback string `json:"planFeedback,omitempty"`
	CodeFeedback string `json:"codeFeedback,omitempty"`

	PlanAttempts int `json:"planAttempts"`
	CodeAttempts int `json:"codeAttempts"`

	MaxPlanAttempts int `json:"maxPlanAttempts"`
	MaxCodeAttempts int `json:"maxCodeAttempts"`

	LastError *ErrorInfo `json:"lastError,omitempty"`
}

// Checkpoint is the self-describing record written at each milestone.
type Checkpoint struct {
	Version         int                     `json:"version"`
	Timestamp       time.Time               `json:"timestamp"`
	Trigger         Trigger                 `json:"trigger"`
	Number          int                     `json:"number"`
	TaskState       TaskStateSnapshot       `json:"taskState"`
	ExecutionState  *ExecutionStateSnapshot `json:"executionState,omitempty"`
	Sessions        []SessionEntry          `json:"sessions"`
	FileSystem      FileSystemSnapshot      `json:"fileSystem"`
	Recoverable     bool                    `json:"recoverable"`
}

func sessionEntries(refs []session.Ref) []SessionEntry {
	if len(refs) == 0 {
		return nil
	}
	out := make([]SessionEntry, 0, len(refs))
	for _, r := range refs {
		out = append(out, SessionEntry{Role: string(r.Role), SessionID: r.SessionID, IsInitialized: r.IsInitialized})
	}
	return out
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Message: err.Error()}
}

// Build assembles a Checkpoint from live FSM state, session refs, and a
// file-system snapshot. number must be the next sequential checkpoint
// number for the task.
func Build(
	number int,
	trigger Trigger,
	task taskfsm.Snapshot,
	taskState taskfsm.State,
	exec *execfsm.FSM,
	sessions []session.Ref,
	fs FileSystemSnapshot,
	recoverable bool,
) Checkpoint {
	cp := Checkpoint{
		Version:   SchemaVersion,
		Timestamp: time.Now(),
		Trigger:   trigger,
		Number:    number,
		TaskState: TaskStateSnapshot{
			State:                   State(taskState),
			TaskID:                  task.TaskID,
			HumanTask:               task.HumanTask,
			RefinedTask:             task.RefinedTask,
			TaskToUse:               task.TaskToUse,
			WorkingDirectory:        task.WorkingDirectory,
			BaselineCommit:          task.BaselineCommit,
			PlanMarkdown:            task.PlanMarkdown,
			PlanPath:                task.PlanPath,
			CurmudgeonFeedback:      task.CurmudgeonFeedback,
			SimplificationCount:     task.SimplificationCount,
			RetryFeedback:           task.RetryFeedback,
			AutoMerge:               task.Options.AutoMerge,
			NonInteractive:          task.Options.NonInteractive,
			PendingInjection:        task.PendingInjection,
			InjectionPauseRequested: task.InjectionPauseRequested,
			LastError:               errorInfo(task.LastError),
		},
		Sessions:    sessionEntries(sessions),
		FileSystem:  fs,
		Recoverable: recoverable,
	}
	if task.SuperReviewResult != nil {
		cp.TaskState.SuperReviewKind = string(task.SuperReviewResult.Kind)
		cp.TaskState.SuperReviewSummary = task.SuperReviewResult.Summary
		cp.TaskState.SuperReviewIssues = task.SuperReviewResult.Issues
	}
	if exec != nil {
		execSnap := exec.Snapshot()
		es := &ExecutionStateSnapshot{
			State:           State(exec.State()),
			PlanFeedback:    execSnap.PlanFeedback,
			CodeFeedback:    execSnap.CodeFeedback,
			PlanAttempts:    execSnap.PlanAttempts,
			CodeAttempts:    execSnap.CodeAttempts,
			MaxPlanAttempts: execSnap.MaxPlanAttempts,
			MaxCodeAttempts: execSnap.MaxCodeAttempts,
			LastError:       errorInfo(execSnap.LastError),
		}
		if execSnap.CurrentChunk != nil {
			es.ChunkDescription = execSnap.CurrentChunk.Description
			es.ChunkRequirements = execSnap.CurrentChunk.Requirements
			es.ChunkContext = execSnap.CurrentChunk.Context
		}
		if execSnap.CurrentPlan != nil {
			es.PlanDescription = execSnap.CurrentPlan.Description
			es.PlanSteps = execSnap.CurrentPlan.Steps
			es.PlanAffectedFiles = execSnap.CurrentPlan.AffectedFiles
		}
		cp.ExecutionState = es
	}
	return cp
}
