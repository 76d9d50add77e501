package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
)

// RefinerSystemPrompt is the role prompt sent on the first call of a
// refinement session; subsequent calls on the same session id omit it.
const RefinerSystemPrompt = `You are the Refiner. Turn a human-authored task description into a precise, ` +
	`unambiguous engineering task. Ask clarifying questions when requirements are ambiguous; otherwise ` +
	`produce the refined task description directly.`

// Refiner runs one turn of the refinement interview: either a clarifying
// question or a refined task draft, as free-form text. The orchestrator
// decides from the raw text whether to treat it as a question (ending in
// "?") or a completed draft; humanTask/feedback framing is the caller's
// responsibility via the messages it supplies.
func Refiner(ctx context.Context, client model.Client, in Input) (Output, error) {
	in.SystemPrompt = RefinerSystemPrompt
	return call(ctx, client, in)
}
