package agentrole

import (
	"context"
	"errors"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// ReviewerSystemPrompt drives the Reviewer's single session per chunk: plan
// review precedes code review so code review inherits plan context via
// session continuity.
const ReviewerSystemPrompt = `You are the Reviewer. Evaluate the Coder's proposal or applied changes against ` +
	`the chunk's requirements. Respond with a fenced JSON object {"kind","feedback"}. For a plan review, kind ` +
	`is one of approve-plan, revise-plan, reject-plan, needs-human, already-complete. For a code review, kind ` +
	`is one of approve-code, revise-code, reject-code, step-complete, task-complete, needs-human.`

// ReviewPlan issues a plan verdict for the Coder's current proposal. A
// Reviewer that never produces a parseable verdict across every re-ask
// retry surfaces as a needs-human verdict rather than an error, so the
// orchestrator routes it through the human-review gate instead of the
// provider-error retry/fail policy. A genuine provider-call failure (the
// provider itself errored, not just its reply) still propagates as an
// error.
func ReviewPlan(ctx context.Context, client model.Client, in Input) (verdict.Plan, Output, error) {
	in.SystemPrompt = ReviewerSystemPrompt
	in.Mode = ModeReview
	v, out, err := withReask(ctx, client, in, func(attemptIn Input) (verdict.Plan, Output, error) {
		out, err := call(ctx, client, attemptIn)
		if err != nil {
			return verdict.Plan{}, Output{}, err
		}
		v, err := ParsePlanVerdict(out.RawText)
		if err != nil {
			return verdict.Plan{}, Output{}, err
		}
		return v, out, nil
	})
	if err != nil {
		if errors.Is(err, ErrProviderCall) {
			return verdict.Plan{}, Output{}, err
		}
		return verdict.Plan{Kind: verdict.PlanNeedsHuman, Feedback: err.Error()}, out, nil
	}
	return v, out, nil
}

// ReviewCode issues a code verdict for the Coder's applied changes. See
// ReviewPlan for the needs-human-on-parse-exhaustion policy.
func ReviewCode(ctx context.Context, client model.Client, in Input) (verdict.Code, Output, error) {
	in.SystemPrompt = ReviewerSystemPrompt
	in.Mode = ModeReview
	v, out, err := withReask(ctx, client, in, func(attemptIn Input) (verdict.Code, Output, error) {
		out, err := call(ctx, client, attemptIn)
		if err != nil {
			return verdict.Code{}, Output{}, err
		}
		v, err := ParseCodeVerdict(out.RawText)
		if err != nil {
			return verdict.Code{}, Output{}, err
		}
		return v, out, nil
	})
	if err != nil {
		if errors.Is(err, ErrProviderCall) {
			return verdict.Code{}, Output{}, err
		}
		return verdict.Code{Kind: verdict.CodeNeedsHuman, Feedback: err.Error()}, out, nil
	}
	return v, out, nil
}
