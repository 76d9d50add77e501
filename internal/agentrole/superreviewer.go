package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// SuperReviewerSystemPrompt drives the stateless SuperReviewer, scoped to
// the diff against the task's baseline commit.
const SuperReviewerSystemPrompt = `You are the SuperReviewer. Review the full diff for the completed task ` +
	`against the baseline commit for correctness, completeness, and regressions. Respond with a fenced JSON ` +
	`object {"kind","summary","issues"}, kind one of approve or needs-human.`

// SuperReview reviews the full task diff and returns a tagged verdict.
func SuperReview(ctx context.Context, client model.Client, in Input) (verdict.SuperReview, Output, error) {
	in.SystemPrompt = SuperReviewerSystemPrompt
	in.Mode = ModeReview
	in.Tools = []AllowedTool{ToolReadFile, ToolGrep, ToolBash, ToolListDir}
	return withReask(ctx, client, in, func(attemptIn Input) (verdict.SuperReview, Output, error) {
		out, err := call(ctx, client, attemptIn)
		if err != nil {
			return verdict.SuperReview{}, Output{}, err
		}
		v, err := ParseSuperReview(out.RawText)
		if err != nil {
			return verdict.SuperReview{}, Output{}, err
		}
		return v, out, nil
	})
}
