package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// CoderSystemPrompt drives the Coder's single session for a chunk: a plan
// proposal call followed by a code-applied call sharing the same context.
const CoderSystemPrompt = `You are the Coder. Given a chunk of work, first propose a short implementation ` +
	`plan as a fenced JSON object {"description","steps","affectedFiles"}. After the plan is approved you will ` +
	`be asked to apply the code changes directly using the available editing tools.`

// CoderPropose produces a structured plan proposal for the current chunk,
// re-asking up to the bounded retry limit on schema mismatch.
func CoderPropose(ctx context.Context, client model.Client, in Input) (verdict.CoderPlan, Output, error) {
	in.SystemPrompt = CoderSystemPrompt
	in.Mode = ModePropose
	return withReask(ctx, client, in, func(attemptIn Input) (verdict.CoderPlan, Output, error) {
		out, err := call(ctx, client, attemptIn)
		if err != nil {
			return verdict.CoderPlan{}, Output{}, err
		}
		plan, err := ParseCoderPlan(out.RawText)
		if err != nil {
			return verdict.CoderPlan{}, Output{}, err
		}
		return plan, out, nil
	})
}

// CoderApply applies the approved plan's code changes using the full tool
// set and returns the raw transcript for logging; there is no structured
// verdict for this call, only the CODE_APPLIED transition the orchestrator
// fires once it returns successfully.
func CoderApply(ctx context.Context, client model.Client, in Input) (Output, error) {
	in.SystemPrompt = CoderSystemPrompt
	in.Mode = ModeDefault
	in.Tools = []AllowedTool{ToolReadFile, ToolGrep, ToolBash, ToolEdit, ToolWrite, ToolListDir, ToolMultiEdit}
	return call(ctx, client, in)
}
