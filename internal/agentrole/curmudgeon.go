package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// CurmudgeonSystemPrompt drives the stateless-per-call Curmudgeon role: a
// skeptical reviewer whose job is to catch overengineering before a plan
// reaches the human.
const CurmudgeonSystemPrompt = `You are the Curmudgeon, a skeptical senior engineer reviewing an implementation ` +
	`plan for unnecessary complexity. Lead your response with exactly one of: approve, simplify, or reject, ` +
	`followed by your reasoning.`

// Curmudgeon reviews a plan and returns a tagged verdict parsed from its
// natural-language response.
func Curmudgeon(ctx context.Context, client model.Client, in Input) (verdict.Curmudgeon, Output, error) {
	in.SystemPrompt = CurmudgeonSystemPrompt
	in.Mode = ModeReview
	out, err := call(ctx, client, in)
	if err != nil {
		return verdict.Curmudgeon{}, Output{}, err
	}
	return ParseCurmudgeon(out.RawText), out, nil
}
