package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// BeanCounterSystemPrompt is sent once per task on the Bean Counter's first
// call, establishing the high-level plan; subsequent calls pass only
// [CHUNK_COMPLETED]/[NEXT_CHUNKING] deltas via Input.Messages.
const BeanCounterSystemPrompt = `You are the Bean Counter. Break the approved plan into small, independently ` +
	`reviewable chunks of work, one at a time. When a chunk completes, decide the next chunk from the plan's ` +
	`remaining scope. When every chunk from the plan is done, respond with TASK_COMPLETE and nothing else. ` +
	`Otherwise describe the next chunk as a short paragraph followed by a bullet list of concrete requirements.`

// BeanCounter emits the next chunk (or signals task completion) for the
// execution loop.
func BeanCounter(ctx context.Context, client model.Client, in Input) (verdict.Chunk, Output, error) {
	in.SystemPrompt = BeanCounterSystemPrompt
	out, err := call(ctx, client, in)
	if err != nil {
		return verdict.Chunk{}, Output{}, err
	}
	return ParseChunk(out.RawText), out, nil
}
