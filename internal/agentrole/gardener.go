package agentrole

import (
	"context"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/verdict"
)

// GardenerSystemPrompt drives the stateless Gardener pass: updating
// project documentation to reflect the completed task. Gardener failure is
// never fatal; the caller logs v.Error and proceeds regardless.
const GardenerSystemPrompt = `You are the Gardener. Update project documentation (README, CHANGELOG, docs/) to ` +
	`reflect the task just completed. Respond with a fenced JSON object {"success","sectionsUpdated","error"}.`

// Gardener runs the post-task documentation pass.
func Gardener(ctx context.Context, client model.Client, in Input) verdict.Gardener {
	in.SystemPrompt = GardenerSystemPrompt
	in.Tools = []AllowedTool{ToolReadFile, ToolGrep, ToolEdit, ToolWrite, ToolListDir}
	out, err := call(ctx, client, in)
	if err != nil {
		return verdict.Gardener{Success: false, Error: err.Error()}
	}
	return ParseGardener(out.RawText)
}
