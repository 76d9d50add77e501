package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageTextConcatenatesOnlyTextParts(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "hello "},
			ToolUsePart{Name: "Grep", Input: []byte(`{}`)},
			TextPart{Text: "world"},
			ThinkingPart{Text: "reasoning should not appear"},
		},
	}
	require.Equal(t, "hello world", m.Text())
}

func TestMessageTextEmptyForNoTextParts(t *testing.T) {
	m := Message{Role: RoleUser, Parts: []Part{ToolResultPart{ToolUseID: "1", Content: "ok"}}}
	require.Empty(t, m.Text())
}
