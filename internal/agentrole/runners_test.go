package agentrole

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

type scriptedClient struct {
	responses []model.Response
	errs      []error
	calls     int
	lastReq   model.Request
}

func textResponse(text string) model.Response {
	return model.Response{
		Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
		Usage:   model.TokenUsage{TotalTokens: 10},
	}
}

func (s *scriptedClient) Complete(_ context.Context, req model.Request) (model.Response, error) {
	s.lastReq = req
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return s.responses[idx], err
}

func (s *scriptedClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	return nil, errors.New("not implemented")
}

func TestPlannerReturnsRawText(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("# Plan\nstep one")}}
	out, err := Planner(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, "# Plan\nstep one", out.RawText)
	require.Equal(t, PlannerSystemPrompt, client.lastReq.System)
}

func TestRefinerForwardsRawText(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("What auth scheme should this use?")}}
	out, err := Refiner(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Contains(t, out.RawText, "auth scheme")
}

func TestBeanCounterParsesTaskComplete(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("TASK_COMPLETE")}}
	chunk, _, err := BeanCounter(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.ChunkTaskComplete, chunk.Kind)
}

func TestBeanCounterPropagatesProviderError(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{{}}, errs: []error{errors.New("provider down")}}
	_, _, err := BeanCounter(context.Background(), client, Input{})
	require.Error(t, err)
}

func TestCurmudgeonClassifiesApprove(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("approve, clean and minimal")}}
	v, _, err := Curmudgeon(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.CurmudgeonApprove, v.Kind)
}

func TestGardenerReportsProviderErrorAsNonFatalFailure(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{{}}, errs: []error{errors.New("tool sandbox unavailable")}}
	v := Gardener(context.Background(), client, Input{})
	require.False(t, v.Success)
	require.Contains(t, v.Error, "tool sandbox unavailable")
}

func TestGardenerParsesSuccess(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse(`{"success": true, "sectionsUpdated": ["CHANGELOG"]}`)}}
	v := Gardener(context.Background(), client, Input{})
	require.True(t, v.Success)
	require.Equal(t, []string{"CHANGELOG"}, v.SectionsUpdated)
}

func TestReviewPlanParsesApprove(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse(`{"kind": "approve-plan"}`)}}
	v, _, err := ReviewPlan(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.PlanKind("approve-plan"), v.Kind)
}

func TestReviewPlanReasksOnUnstructuredThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{textResponse("no json here"), textResponse(`{"kind": "revise-plan", "feedback": "tighten scope"}`)},
	}
	v, _, err := ReviewPlan(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.PlanKind("revise-plan"), v.Kind)
	require.Equal(t, 2, client.calls)
}

func TestReviewCodeExhaustsRetriesOnPersistentUnstructuredOutput(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("still nothing structured")}}
	v, _, err := ReviewCode(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.CodeNeedsHuman, v.Kind)
	require.Equal(t, maxReaskRetries+1, client.calls)
}

func TestReviewPlanExhaustsRetriesOnPersistentUnstructuredOutput(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("no json at all")}}
	v, _, err := ReviewPlan(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.PlanNeedsHuman, v.Kind)
	require.Equal(t, maxReaskRetries+1, client.calls)
}

func TestReviewCodePropagatesProviderCallFailureRatherThanNeedsHuman(t *testing.T) {
	providerErr := errors.New("provider unavailable")
	responses := make([]model.Response, maxReaskRetries+1)
	errs := make([]error, maxReaskRetries+1)
	for i := range errs {
		errs[i] = providerErr
	}
	client := &scriptedClient{responses: responses, errs: errs}
	_, _, err := ReviewCode(context.Background(), client, Input{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProviderCall)
	require.Equal(t, maxReaskRetries+1, client.calls)
}

func TestCoderProposeParsesPlan(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse(`{"description": "add retry", "steps": ["a"], "affectedFiles": ["x.go"]}`)}}
	plan, _, err := CoderPropose(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, "add retry", plan.Description)
}

func TestCoderApplyGrantsFullToolSet(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("applied the change")}}
	out, err := CoderApply(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, "applied the change", out.RawText)
	require.Len(t, client.lastReq.Tools, 7)
}

func TestSuperReviewParsesNeedsHuman(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse(`{"kind": "needs-human", "issues": ["regression in billing"]}`)}}
	v, _, err := SuperReview(context.Background(), client, Input{})
	require.NoError(t, err)
	require.Equal(t, verdict.SuperReviewKind("needs-human"), v.Kind)
	require.Len(t, v.Issues, 1)
}

func TestCallUsesSystemPromptOnlyWhenNotInitialized(t *testing.T) {
	client := &scriptedClient{responses: []model.Response{textResponse("hello")}}
	_, err := Planner(context.Background(), client, Input{IsInitialized: true})
	require.NoError(t, err)
	require.Empty(t, client.lastReq.System, "system prompt must be omitted once the session is initialized")
}

func TestCallInvokesCallbacksFromResponseParts(t *testing.T) {
	var progressed []string
	var toolsUsed []string
	var completedUsage model.TokenUsage
	client := &scriptedClient{responses: []model.Response{{
		Message: model.Message{Parts: []model.Part{
			model.TextPart{Text: "working on it"},
			model.ToolUsePart{Name: "Grep", Input: []byte(`{"pattern":"foo"}`)},
		}},
		Usage: model.TokenUsage{TotalTokens: 42},
	}}}

	_, err := Planner(context.Background(), client, Input{Callbacks: Callbacks{
		OnProgress: func(text string) { progressed = append(progressed, text) },
		OnToolUse:  func(tool, _ string) { toolsUsed = append(toolsUsed, tool) },
		OnComplete: func(usage model.TokenUsage, _ time.Duration) { completedUsage = usage },
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"working on it"}, progressed)
	require.Equal(t, []string{"Grep"}, toolsUsed)
	require.Equal(t, 42, completedUsage.TotalTokens)
}
