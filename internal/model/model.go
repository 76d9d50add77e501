// Package model defines the provider-agnostic request/response types shared
// by every LLM backend adapter (internal/provider/...).
package model

import (
	"context"
	"encoding/json"
)

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// Part is a single content block within a Message. Concrete parts preserve
// structure (text, thinking, tool use, tool result) instead of flattening a
// turn down to a single string, so adapters can carry reasoning tokens and
// tool payloads independently of plain text.
type Part interface{ isPart() }

type (
	// TextPart is plain assistant/user/system text.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries provider-issued reasoning content. Callers treat
	// this as opaque and surface it according to logging policy.
	ThinkingPart struct {
		Text      string
		Signature string
		Redacted  []byte
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultPart carries the result of a prior ToolUsePart, attached to
	// a subsequent user message so the model can read it on the next turn.
	ToolResultPart struct {
		ToolUseID string
		Content   string
		IsError   bool
	}
)

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single ordered turn in a conversation transcript.
type Message struct {
	Role  ConversationRole
	Parts []Part
}

// Text concatenates every TextPart in the message, ignoring other part kinds.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolDefinition describes a tool exposed to the model for this request.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// TokenUsage tracks token accounting for a single model call.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Request captures the inputs for one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
	Thinking    *ThinkingOptions
}

// ThinkingOptions configures provider reasoning behavior.
type ThinkingOptions struct {
	Enable       bool
	BudgetTokens int
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Message    Message
	Usage      TokenUsage
	StopReason string
}

// Chunk is one streaming event from the model.
type Chunk struct {
	TextDelta  string
	ToolUse    *ToolUsePart
	UsageDelta *TokenUsage
	StopReason string
	Done       bool
}

// Streamer delivers incremental model output. Callers must drain Recv until
// it returns (Chunk{Done: true}, nil) or a terminal error, then call Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic model client implemented by every backend
// adapter in internal/provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}
