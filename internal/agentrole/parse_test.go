package agentrole

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/verdict"
)

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	raw := "Here is my answer:\n```json\n{\"kind\": \"approve\"}\n```\nThanks."
	data, ok := extractJSON(raw)
	require.True(t, ok)
	require.JSONEq(t, `{"kind": "approve"}`, string(data))
}

func TestExtractJSONFallsBackToBraceScan(t *testing.T) {
	raw := "prefix noise {\"kind\": \"revise\", \"nested\": {\"a\": 1}} trailing"
	data, ok := extractJSON(raw)
	require.True(t, ok)
	require.JSONEq(t, `{"kind": "revise", "nested": {"a": 1}}`, string(data))
}

func TestExtractJSONReturnsFalseWithNoBraces(t *testing.T) {
	_, ok := extractJSON("no json here at all")
	require.False(t, ok)
}

func TestParsePlanVerdictApprove(t *testing.T) {
	v, err := ParsePlanVerdict("```json\n{\"kind\": \"approve-plan\"}\n```")
	require.NoError(t, err)
	require.Equal(t, verdict.PlanApprove, v.Kind)
}

func TestParsePlanVerdictUnknownKindErrors(t *testing.T) {
	_, err := ParsePlanVerdict(`{"kind": "bogus"}`)
	require.Error(t, err)
}

func TestParsePlanVerdictNoJSONReturnsStructuredOutputError(t *testing.T) {
	_, err := ParsePlanVerdict("just rambling text")
	require.Error(t, err)
	var target *ErrNoStructuredOutput
	require.ErrorAs(t, err, &target)
	require.Equal(t, "reviewer plan verdict", target.Role)
}

func TestParseCodeVerdictRevise(t *testing.T) {
	v, err := ParseCodeVerdict(`{"kind": "revise-code", "feedback": "missing tests"}`)
	require.NoError(t, err)
	require.Equal(t, verdict.CodeRevise, v.Kind)
	require.Equal(t, "missing tests", v.Feedback)
}

func TestParseCodeVerdictUnknownKindErrors(t *testing.T) {
	_, err := ParseCodeVerdict(`{"kind": "not-a-kind"}`)
	require.Error(t, err)
}

func TestParseSuperReviewApprove(t *testing.T) {
	v, err := ParseSuperReview(`{"kind": "approve", "summary": "looks solid", "issues": []}`)
	require.NoError(t, err)
	require.Equal(t, verdict.SuperReviewApprove, v.Kind)
	require.Equal(t, "looks solid", v.Summary)
}

func TestParseSuperReviewNeedsHumanCarriesIssues(t *testing.T) {
	v, err := ParseSuperReview(`{"kind": "needs-human", "issues": ["flaky test", "missing migration"]}`)
	require.NoError(t, err)
	require.Equal(t, verdict.SuperReviewNeedsHuman, v.Kind)
	require.Len(t, v.Issues, 2)
}

func TestParseCoderPlanExtractsFields(t *testing.T) {
	v, err := ParseCoderPlan(`{"description": "add cache", "steps": ["write cache.go"], "affectedFiles": ["cache.go"]}`)
	require.NoError(t, err)
	require.Equal(t, "add cache", v.Description)
	require.Equal(t, []string{"write cache.go"}, v.Steps)
	require.Equal(t, []string{"cache.go"}, v.AffectedFiles)
}

func TestParseCoderPlanNoJSONReturnsStructuredOutputError(t *testing.T) {
	_, err := ParseCoderPlan("no plan here")
	var target *ErrNoStructuredOutput
	require.ErrorAs(t, err, &target)
}

func TestParseChunkDetectsCompletionKeyword(t *testing.T) {
	c := ParseChunk("TASK_COMPLETE\nEverything is done.")
	require.Equal(t, verdict.ChunkTaskComplete, c.Kind)
}

func TestParseChunkDetectsCompletionKeywordCaseInsensitive(t *testing.T) {
	c := ParseChunk("No Further Work remains on this task.")
	require.Equal(t, verdict.ChunkTaskComplete, c.Kind)
}

func TestParseChunkExtractsDescriptionAndRequirements(t *testing.T) {
	raw := "Implement the retry helper.\n- must cap attempts\n- must append a nudge message"
	c := ParseChunk(raw)
	require.Equal(t, verdict.ChunkWork, c.Kind)
	require.Equal(t, "Implement the retry helper.", c.Description)
	require.Equal(t, []string{"must cap attempts", "must append a nudge message"}, c.Requirements)
	require.Equal(t, raw, c.Context)
}

func TestParseCurmudgeonApprove(t *testing.T) {
	v := ParseCurmudgeon("LGTM, ship it")
	require.Equal(t, verdict.CurmudgeonApprove, v.Kind)
}

func TestParseCurmudgeonSimplify(t *testing.T) {
	v := ParseCurmudgeon("This plan is overengineered for what's needed")
	require.Equal(t, verdict.CurmudgeonSimplify, v.Kind)
}

func TestParseCurmudgeonReject(t *testing.T) {
	v := ParseCurmudgeon("I reject this approach entirely")
	require.Equal(t, verdict.CurmudgeonReject, v.Kind)
}

func TestParseCurmudgeonDefaultsToSimplifyWhenUnclassifiable(t *testing.T) {
	v := ParseCurmudgeon("The weather today is nice")
	require.Equal(t, verdict.CurmudgeonSimplify, v.Kind)
}

func TestParseGardenerSuccess(t *testing.T) {
	v := ParseGardener(`{"success": true, "sectionsUpdated": ["README"]}`)
	require.True(t, v.Success)
	require.Equal(t, []string{"README"}, v.SectionsUpdated)
}

func TestParseGardenerNoJSONReportsNonFatalError(t *testing.T) {
	v := ParseGardener("nothing structured")
	require.False(t, v.Success)
	require.NotEmpty(t, v.Error)
}
