package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/checkpoint"
	"github.com/durch/agneto/internal/checkpoint/filestore"
	"github.com/durch/agneto/internal/command"
	"github.com/durch/agneto/internal/gitutil"
	"github.com/durch/agneto/internal/hooks"
	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/session/inmem"
	"github.com/durch/agneto/internal/taskfsm"
	"github.com/durch/agneto/internal/verdict"
)

func approveCurmudgeon() verdict.Curmudgeon {
	return verdict.Curmudgeon{Kind: verdict.CurmudgeonApprove}
}

func approveSuperReview() verdict.SuperReview {
	return verdict.SuperReview{Kind: verdict.SuperReviewApprove}
}

type scriptedClient struct {
	texts []string
	calls int
}

func (s *scriptedClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.texts) {
		return model.Response{}, errors.New("orchestrator test: scripted client ran out of responses")
	}
	return model.Response{
		Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: s.texts[idx]}}},
		Usage:   model.TokenUsage{TotalTokens: 5},
	}, nil
}

func (s *scriptedClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	return nil, errors.New("not implemented")
}

type erroringClient struct{ err error }

func (c *erroringClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	return model.Response{}, c.err
}

func (c *erroringClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	return nil, c.err
}

func initRepo(t *testing.T) *gitutil.Repo {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v1\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return gitutil.New(dir)
}

func newTaskFSM(id, task string, opts taskfsm.Options) *taskfsm.FSM {
	f := taskfsm.New(id, task, "/work", opts, hooks.NewBus())
	return f
}

func TestRunPlanningWritesPlanAndAdvancesToCurmudgeoning(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()
	require.Equal(t, taskfsm.Planning, task.State())

	orc := New(task, Deps{
		Client:  &scriptedClient{texts: []string{"## Plan\n- step one"}},
		PlansFS: afero.NewMemMapFs(),
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Curmudgeoning, task.State())
	require.Equal(t, "## Plan\n- step one", task.Snapshot().PlanMarkdown)

	data, err := afero.ReadFile(orc.deps.PlansFS, filepath.Join(".plans", "t1", "plan.md"))
	require.NoError(t, err)
	require.Equal(t, "## Plan\n- step one", string(data))
}

func TestRunPlanningProviderFailureAbandonsTask(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()

	orc := New(task, Deps{
		Client:  &erroringClient{err: errors.New("provider unavailable")},
		PlansFS: afero.NewMemMapFs(),
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Abandoned, task.State())
	require.Error(t, task.Snapshot().LastError)
}

func TestRunCurmudgeoningApproveEntersExecuting(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()
	task.PlanCreated("## Plan", "plan.md")
	require.Equal(t, taskfsm.Curmudgeoning, task.State())

	orc := New(task, Deps{Client: &scriptedClient{texts: []string{"approve, this is clean"}}})
	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Executing, task.State())
	require.NotNil(t, task.Exec())
}

func TestRunCurmudgeoningErrorProceedsToExecuting(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()
	task.PlanCreated("## Plan", "plan.md")
	require.Equal(t, taskfsm.Curmudgeoning, task.State())

	orc := New(task, Deps{Client: &erroringClient{err: errors.New("curmudgeon provider down")}})
	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Executing, task.State(), "a Curmudgeon failure must be treated as an implicit approve")
	require.NotNil(t, task.Exec())
}

func TestRunGardeningCompletesRegardlessOfProviderError(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()
	task.PlanCreated("## Plan", "plan.md")
	task.CurmudgeonVerdict(approveCurmudgeon())
	task.ExecutionComplete()
	task.SuperReviewVerdict(approveSuperReview())
	require.Equal(t, taskfsm.Gardening, task.State())

	orc := New(task, Deps{Client: &erroringClient{err: errors.New("tool sandbox down")}})
	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Complete, task.State())
}

func TestRunSuperReviewingApproveWritesCheckpointAndEntersGardening(t *testing.T) {
	repo := initRepo(t)
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.SetBaselineCommit(mustHead(t, repo))
	task.StartTask()
	task.PlanCreated("## Plan", "plan.md")
	task.CurmudgeonVerdict(approveCurmudgeon())
	task.ExecutionComplete()
	require.Equal(t, taskfsm.SuperReviewing, task.State())

	checkpoints := filestore.New(afero.NewMemMapFs(), ".agneto")
	orc := New(task, Deps{
		Client:      &scriptedClient{texts: []string{`{"kind": "approve", "summary": "all good", "issues": []}`}},
		Git:         repo,
		Sessions:    inmem.New(),
		Checkpoints: checkpoints,
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Gardening, task.State())

	all, err := checkpoints.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRunSuperReviewingNeedsHumanInNonInteractiveAbandons(t *testing.T) {
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.StartTask()
	task.PlanCreated("## Plan", "plan.md")
	task.CurmudgeonVerdict(approveCurmudgeon())
	task.ExecutionComplete()

	orc := New(task, Deps{
		Client: &scriptedClient{texts: []string{`{"kind": "needs-human", "summary": "risky", "issues": ["x"]}`}},
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.Abandoned, task.State())
}

func TestRunExecutingHappyPathReachesSuperReviewing(t *testing.T) {
	repo := initRepo(t)
	task := newTaskFSM("t1", "add caching", taskfsm.Options{NonInteractive: true})
	task.SetBaselineCommit(mustHead(t, repo))
	task.StartTask()
	task.PlanCreated("## Plan\nadd caching", "plan.md")
	task.CurmudgeonVerdict(approveCurmudgeon())
	require.Equal(t, taskfsm.Executing, task.State())

	client := &scriptedClient{texts: []string{
		"Implement the caching layer.\n- add cache.go\n- wire it into the handler",
		`{"description": "add cache", "steps": ["write cache.go"], "affectedFiles": ["cache.go"]}`,
		`{"kind": "approve-plan"}`,
		"applied the change",
		`{"kind": "task-complete"}`,
	}}

	orc := New(task, Deps{
		Client:   client,
		Git:      repo,
		Sessions: inmem.New(),
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.SuperReviewing, task.State())

	head, err := repo.HeadCommit(context.Background())
	require.NoError(t, err)
	baseline := task.Snapshot().BaselineCommit
	require.NotEqual(t, baseline, head, "CoderApply's change must have been committed")
}

func TestRunExecutingWritesCheckpointAfterEveryChunkApproval(t *testing.T) {
	repo := initRepo(t)
	task := newTaskFSM("t1", "add caching", taskfsm.Options{NonInteractive: true})
	task.SetBaselineCommit(mustHead(t, repo))
	task.StartTask()
	task.PlanCreated("## Plan\nadd caching in two chunks", "plan.md")
	task.CurmudgeonVerdict(approveCurmudgeon())
	require.Equal(t, taskfsm.Executing, task.State())

	client := &scriptedClient{texts: []string{
		"Implement part one.\n- add foo",
		`{"description": "add foo", "steps": ["write foo.go"], "affectedFiles": ["foo.go"]}`,
		`{"kind": "approve-plan"}`,
		"applied foo",
		`{"kind": "step-complete"}`,
		"Implement part two.\n- add bar",
		`{"description": "add bar", "steps": ["write bar.go"], "affectedFiles": ["bar.go"]}`,
		`{"kind": "approve-plan"}`,
		"applied bar",
		`{"kind": "task-complete"}`,
	}}

	checkpoints := filestore.New(afero.NewMemMapFs(), ".agneto")
	orc := New(task, Deps{
		Client:      client,
		Git:         repo,
		Sessions:    inmem.New(),
		Checkpoints: checkpoints,
	})

	require.NoError(t, orc.step(context.Background()))
	require.Equal(t, taskfsm.SuperReviewing, task.State())

	all, err := checkpoints.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, all, 2, "one checkpoint per chunk approval, not just one at the end of the loop")
	for _, cp := range all {
		require.Equal(t, checkpoint.TriggerCodeApproved, cp.Trigger)
	}
}

func TestRunWritesErrorCheckpointOnStepFailure(t *testing.T) {
	repo := initRepo(t)
	task := newTaskFSM("t1", "add retry logic", taskfsm.Options{NonInteractive: true})
	task.SetBaselineCommit(mustHead(t, repo))

	checkpoints := filestore.New(afero.NewMemMapFs(), ".agneto")
	orc := New(task, Deps{
		Client:      &erroringClient{err: errors.New("provider unavailable")},
		Git:         repo,
		Sessions:    inmem.New(),
		Checkpoints: checkpoints,
		PlansFS:     afero.NewMemMapFs(),
	})

	require.NoError(t, orc.Run(context.Background()))
	require.Equal(t, taskfsm.Abandoned, task.State())

	all, err := checkpoints.List(context.Background(), "t1")
	require.NoError(t, err)
	require.NotEmpty(t, all)
	require.Equal(t, checkpoint.TriggerError, all[len(all)-1].Trigger)
}

func TestRunRefiningQuestionThenApproveReachesPlanning(t *testing.T) {
	task := newTaskFSM("t1", "make it faster", taskfsm.Options{})
	task.StartTask()
	require.Equal(t, taskfsm.Refining, task.State())

	bus := command.NewBus()
	orc := New(task, Deps{
		Client:   &scriptedClient{texts: []string{"Which endpoint should be optimized?", "Refined: optimize the /search endpoint"}},
		Commands: bus,
		Sessions: inmem.New(),
	})

	done := make(chan error, 1)
	go func() { done <- orc.step(context.Background()) }()

	sendWhenReady(t, bus, command.QuestionAnswer, "the /search endpoint")
	sendWhenReady(t, bus, command.RefinementApprove, "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runRefining did not complete in time")
	}
	require.Equal(t, taskfsm.Planning, task.State())
	require.Equal(t, "Refined: optimize the /search endpoint", task.Snapshot().TaskToUse)
}

func TestRunRefiningRejectFallsBackToHumanTask(t *testing.T) {
	task := newTaskFSM("t1", "make it faster", taskfsm.Options{})
	task.StartTask()

	bus := command.NewBus()
	orc := New(task, Deps{
		Client:   &scriptedClient{texts: []string{"Refined draft text"}},
		Commands: bus,
		Sessions: inmem.New(),
	})

	done := make(chan error, 1)
	go func() { done <- orc.step(context.Background()) }()

	sendWhenReady(t, bus, command.RefinementReject, "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runRefining did not complete in time")
	}
	require.Equal(t, taskfsm.Planning, task.State())
	require.Equal(t, "make it faster", task.Snapshot().TaskToUse)
}

// sendWhenReady retries Send until AwaitCommand has registered typ, since
// the command bus rejects rather than queues commands sent too early.
func sendWhenReady(t *testing.T, bus *command.Bus, typ command.Type, details string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res := bus.Send(context.Background(), typ, details)
		if res.Accepted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("command %q was never accepted", typ)
}

func mustHead(t *testing.T, repo *gitutil.Repo) string {
	t.Helper()
	head, err := repo.HeadCommit(context.Background())
	require.NoError(t, err)
	return head
}
