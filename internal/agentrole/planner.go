package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
)

// PlannerSystemPrompt drives the Planner role: stateless per call, takes the
// effective task plus accumulated curmudgeon/retry feedback and produces
// plan markdown.
const PlannerSystemPrompt = `You are the Planner. Produce a clear, minimal implementation plan in markdown for ` +
	`the given engineering task. Incorporate any simplification or retry feedback supplied. Do not write code; ` +
	`describe the approach and the ordered steps a coder will follow.`

// Planner produces plan markdown for the given task. The caller persists
// the raw text as plan.md and feeds it to the Curmudgeon; Planner itself
// carries no verdict.
func Planner(ctx context.Context, client model.Client, in Input) (Output, error) {
	in.SystemPrompt = PlannerSystemPrompt
	in.Mode = ModePlan
	return call(ctx, client, in)
}
