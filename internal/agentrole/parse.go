package agentrole

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/durch/agneto/internal/verdict"
)

// jsonBlockPattern matches a fenced ```json ... ``` block, preferred over a
// bare brace scan since role prompts ask for fenced output.
var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON finds the most likely JSON object in free-form model output:
// a fenced code block if present, otherwise the first top-level {...} span.
func extractJSON(text string) (json.RawMessage, bool) {
	if m := jsonBlockPattern.FindStringSubmatch(text); m != nil {
		return json.RawMessage(m[1]), true
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return json.RawMessage(text[start : i+1]), true
			}
		}
	}
	return nil, false
}

// ErrNoStructuredOutput is returned by a Parse* function when the raw text
// carries no recognizable JSON payload, signaling the caller to issue a
// bounded re-ask.
type ErrNoStructuredOutput struct {
	Role string
}

func (e *ErrNoStructuredOutput) Error() string {
	return fmt.Sprintf("agentrole: %s response carried no structured JSON verdict", e.Role)
}

type planVerdictJSON struct {
	Kind     string `json:"kind"`
	Feedback string `json:"feedback"`
}

// ParsePlanVerdict extracts a Reviewer plan-review verdict from raw model
// output.
func ParsePlanVerdict(raw string) (verdict.Plan, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return verdict.Plan{}, &ErrNoStructuredOutput{Role: "reviewer plan verdict"}
	}
	var v planVerdictJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return verdict.Plan{}, fmt.Errorf("agentrole: decoding plan verdict: %w", err)
	}
	kind := verdict.PlanKind(v.Kind)
	switch kind {
	case verdict.PlanApprove, verdict.PlanRevise, verdict.PlanReject, verdict.PlanNeedsHuman, verdict.PlanAlreadyComplete:
	default:
		return verdict.Plan{}, fmt.Errorf("agentrole: unknown plan verdict kind %q", v.Kind)
	}
	return verdict.Plan{Kind: kind, Feedback: v.Feedback}, nil
}

type codeVerdictJSON struct {
	Kind     string `json:"kind"`
	Feedback string `json:"feedback"`
}

// ParseCodeVerdict extracts a Reviewer code-review verdict from raw model
// output.
func ParseCodeVerdict(raw string) (verdict.Code, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return verdict.Code{}, &ErrNoStructuredOutput{Role: "reviewer code verdict"}
	}
	var v codeVerdictJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return verdict.Code{}, fmt.Errorf("agentrole: decoding code verdict: %w", err)
	}
	kind := verdict.CodeKind(v.Kind)
	switch kind {
	case verdict.CodeApprove, verdict.CodeRevise, verdict.CodeReject, verdict.CodeStepComplete, verdict.CodeTaskComplete, verdict.CodeNeedsHuman:
	default:
		return verdict.Code{}, fmt.Errorf("agentrole: unknown code verdict kind %q", v.Kind)
	}
	return verdict.Code{Kind: kind, Feedback: v.Feedback}, nil
}

type superReviewJSON struct {
	Kind    string   `json:"kind"`
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
}

// ParseSuperReview extracts a SuperReviewer verdict from raw model output.
func ParseSuperReview(raw string) (verdict.SuperReview, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return verdict.SuperReview{}, &ErrNoStructuredOutput{Role: "super-review verdict"}
	}
	var v superReviewJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return verdict.SuperReview{}, fmt.Errorf("agentrole: decoding super-review verdict: %w", err)
	}
	kind := verdict.SuperReviewKind(v.Kind)
	switch kind {
	case verdict.SuperReviewApprove, verdict.SuperReviewNeedsHuman:
	default:
		return verdict.SuperReview{}, fmt.Errorf("agentrole: unknown super-review verdict kind %q", v.Kind)
	}
	return verdict.SuperReview{Kind: kind, Summary: v.Summary, Issues: v.Issues}, nil
}

type coderPlanJSON struct {
	Description   string   `json:"description"`
	Steps         []string `json:"steps"`
	AffectedFiles []string `json:"affectedFiles"`
}

// ParseCoderPlan extracts the Coder's structured plan proposal for a chunk.
func ParseCoderPlan(raw string) (verdict.CoderPlan, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return verdict.CoderPlan{}, &ErrNoStructuredOutput{Role: "coder plan proposal"}
	}
	var v coderPlanJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return verdict.CoderPlan{}, fmt.Errorf("agentrole: decoding coder plan: %w", err)
	}
	return verdict.CoderPlan{Description: v.Description, Steps: v.Steps, AffectedFiles: v.AffectedFiles}, nil
}

// completionKeywords are the free-form markers the Bean Counter uses to
// signal there is no more work, matched case-insensitively against the
// first non-blank line of its response.
var completionKeywords = []string{"task_complete", "all chunks complete", "no further work", "task is complete"}

// ParseChunk extracts a Bean Counter chunking result from free-form
// markdown: a completion-signal keyword on the leading line short-circuits
// to TASK_COMPLETE; otherwise the response is read as a description
// paragraph followed by a bullet list of requirements.
func ParseChunk(raw string) verdict.Chunk {
	trimmed := strings.TrimSpace(raw)
	firstLine := strings.ToLower(trimmed)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	for _, kw := range completionKeywords {
		if strings.Contains(firstLine, kw) {
			return verdict.Chunk{Kind: verdict.ChunkTaskComplete}
		}
	}

	lines := strings.Split(trimmed, "\n")
	var description strings.Builder
	var requirements []string
	inBullets := false
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		if strings.HasPrefix(l, "-") || strings.HasPrefix(l, "*") {
			inBullets = true
			requirements = append(requirements, strings.TrimSpace(strings.TrimLeft(l, "-* ")))
			continue
		}
		if !inBullets {
			if description.Len() > 0 {
				description.WriteByte(' ')
			}
			description.WriteString(l)
		}
	}
	return verdict.Chunk{
		Kind:         verdict.ChunkWork,
		Description:  description.String(),
		Requirements: requirements,
		Context:      trimmed,
	}
}

// curmudgeonApproveKeywords/SimplifyKeywords/RejectKeywords drive natural-
// language classification of the Curmudgeon's free-form review. The
// Curmudgeon is asked to lead its response with one of these words.
var (
	curmudgeonApproveKeywords  = []string{"approve", "looks good", "lgtm"}
	curmudgeonSimplifyKeywords = []string{"simplify", "overengineered", "too complex"}
	curmudgeonRejectKeywords   = []string{"reject"}
)

// ParseCurmudgeon classifies the Curmudgeon's natural-language review into
// a tagged verdict, keeping the full response as feedback regardless of
// kind so the Planner sees the reasoning either way.
func ParseCurmudgeon(raw string) verdict.Curmudgeon {
	lower := strings.ToLower(raw)
	switch {
	case containsAny(lower, curmudgeonRejectKeywords):
		return verdict.Curmudgeon{Kind: verdict.CurmudgeonReject, Feedback: raw}
	case containsAny(lower, curmudgeonSimplifyKeywords):
		return verdict.Curmudgeon{Kind: verdict.CurmudgeonSimplify, Feedback: raw}
	case containsAny(lower, curmudgeonApproveKeywords):
		return verdict.Curmudgeon{Kind: verdict.CurmudgeonApprove, Feedback: raw}
	default:
		// Default to simplify rather than silently approving an
		// unclassifiable review.
		return verdict.Curmudgeon{Kind: verdict.CurmudgeonSimplify, Feedback: raw}
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

type gardenerJSON struct {
	Success         bool     `json:"success"`
	SectionsUpdated []string `json:"sectionsUpdated"`
	Error           string   `json:"error"`
}

// ParseGardener extracts the Gardener's documentation-update result.
// Failure to parse is reported as a Gardener error rather than propagated,
// matching the policy that gardening is never fatal to the task.
func ParseGardener(raw string) verdict.Gardener {
	data, ok := extractJSON(raw)
	if !ok {
		return verdict.Gardener{Success: false, Error: "gardener response carried no structured result"}
	}
	var v gardenerJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return verdict.Gardener{Success: false, Error: fmt.Sprintf("decoding gardener result: %v", err)}
	}
	return verdict.Gardener{Success: v.Success, SectionsUpdated: v.SectionsUpdated, Error: v.Error}
}
