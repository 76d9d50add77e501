// Package agentrole implements the thin per-role callers that load a role
// prompt, invoke the LLM provider, route streaming/tool callbacks back to
// the task FSM as live activity, and parse the reply into a verdict. Each
// runner is a pure function over (client, input) -> (output, error); the
// orchestrator owns session id continuity and attempt counters above this
// package.
package agentrole

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/durch/agneto/internal/model"
)

// ErrProviderCall marks an error as originating from the provider call
// itself rather than from parsing its reply, so callers can distinguish a
// transport/outage failure from a malformed-response failure.
var ErrProviderCall = errors.New("agentrole: provider call failed")

// AllowedTool is one of the tool capabilities a runner may grant the
// provider for a given call.
type AllowedTool string

const (
	ToolReadFile  AllowedTool = "ReadFile"
	ToolGrep      AllowedTool = "Grep"
	ToolBash      AllowedTool = "Bash"
	ToolEdit      AllowedTool = "Edit"
	ToolWrite     AllowedTool = "Write"
	ToolListDir   AllowedTool = "ListDir"
	ToolMultiEdit AllowedTool = "MultiEdit"
)

// Mode selects the provider's operating mode for a call, mirroring the
// externally-consumed query() interface.
type Mode string

const (
	ModeDefault Mode = "default"
	ModePlan    Mode = "plan"
	ModePropose Mode = "propose"
	ModeReview  Mode = "review"
)

// Callbacks forwards provider progress into the task FSM as live-activity
// and tool-status projections. Every runner calls these at the appropriate
// points; a nil field is simply skipped.
type Callbacks struct {
	OnProgress   func(text string)
	OnToolUse    func(tool string, input string)
	OnToolResult func(isError bool)
	OnComplete   func(usage model.TokenUsage, duration time.Duration)
}

func (c Callbacks) progress(text string) {
	if c.OnProgress != nil {
		c.OnProgress(text)
	}
}

func (c Callbacks) toolUse(tool, input string) {
	if c.OnToolUse != nil {
		c.OnToolUse(tool, input)
	}
}

func (c Callbacks) toolResult(isError bool) {
	if c.OnToolResult != nil {
		c.OnToolResult(isError)
	}
}

func (c Callbacks) complete(usage model.TokenUsage, duration time.Duration) {
	if c.OnComplete != nil {
		c.OnComplete(usage, duration)
	}
}

// Input is the common shape every role runner accepts.
type Input struct {
	Cwd     string
	Mode    Mode
	Tools   []AllowedTool
	Model   string

	SystemPrompt string
	Messages     []model.Message

	SessionID     string
	IsInitialized bool

	Callbacks Callbacks
}

// Output is the common shape every role runner returns: the raw text
// response plus usage, for the orchestrator to log and checkpoint.
type Output struct {
	RawText string
	Usage   model.TokenUsage
}

// call runs one provider turn shared by every role: it builds the request,
// honors session continuity (omitting the system prompt once initialized),
// and forwards progress via Callbacks derived from the non-streaming
// response (none of the provider adapters support true incremental
// streaming; tool-use/tool-result callbacks are synthesized from the
// completed response's parts).
func call(ctx context.Context, client model.Client, in Input) (Output, error) {
	req := model.Request{
		Model:    in.Model,
		Messages: in.Messages,
		Tools:    toolDefinitions(in.Tools),
	}
	if !in.IsInitialized {
		req.System = in.SystemPrompt
	}

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return Output{}, fmt.Errorf("agentrole: provider call failed: %w: %w", ErrProviderCall, err)
	}

	for _, part := range resp.Message.Parts {
		switch p := part.(type) {
		case model.TextPart:
			in.Callbacks.progress(p.Text)
		case model.ToolUsePart:
			in.Callbacks.toolUse(p.Name, string(p.Input))
		case model.ToolResultPart:
			in.Callbacks.toolResult(p.IsError)
		}
	}
	in.Callbacks.complete(resp.Usage, duration)

	return Output{RawText: resp.Message.Text(), Usage: resp.Usage}, nil
}

// toolDescriptions documents each allowed tool for the provider's tool list.
var toolDescriptions = map[AllowedTool]string{
	ToolReadFile:  "Read the contents of a file in the worktree.",
	ToolGrep:      "Search worktree file contents by pattern.",
	ToolBash:      "Run a shell command in the worktree.",
	ToolEdit:      "Apply a targeted edit to a single file.",
	ToolWrite:     "Write or overwrite a file's contents.",
	ToolListDir:   "List the contents of a directory.",
	ToolMultiEdit: "Apply multiple targeted edits across files in one call.",
}

func toolDefinitions(allowed []AllowedTool) []model.ToolDefinition {
	if len(allowed) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(allowed))
	for _, t := range allowed {
		defs = append(defs, model.ToolDefinition{Name: string(t), Description: toolDescriptions[t]})
	}
	return defs
}

// UserMessage is a convenience constructor for a single-text user message,
// used by runners and by the orchestrator when prepending injected text.
func UserMessage(text string) model.Message {
	return model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: text}}}
}
