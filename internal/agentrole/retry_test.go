package agentrole

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/model"
)

func TestWithReaskReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	fn := func(in Input) (string, Output, error) {
		calls++
		return "ok", Output{RawText: "ok"}, nil
	}

	v, out, err := withReask(context.Background(), nil, Input{}, fn)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, "ok", out.RawText)
	require.Equal(t, 1, calls)
}

func TestWithReaskRetriesWithNudgeThenSucceeds(t *testing.T) {
	calls := 0
	var seenMessageCounts []int
	fn := func(in Input) (string, Output, error) {
		calls++
		seenMessageCounts = append(seenMessageCounts, len(in.Messages))
		if calls < 2 {
			return "", Output{}, errors.New("no structured output")
		}
		return "recovered", Output{}, nil
	}

	v, _, err := withReask(context.Background(), nil, Input{Messages: []model.Message{UserMessage("start")}}, fn)
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
	require.Equal(t, 2, calls)
	require.Equal(t, []int{1, 2}, seenMessageCounts, "second attempt must see the appended nudge")
}

func TestWithReaskExhaustsRetriesAndWrapsLastError(t *testing.T) {
	calls := 0
	lastErr := errors.New("still not structured")
	fn := func(in Input) (string, Output, error) {
		calls++
		return "", Output{}, lastErr
	}

	_, out, err := withReask(context.Background(), nil, Input{}, fn)
	require.Error(t, err)
	require.ErrorIs(t, err, lastErr)
	require.Equal(t, Output{}, out)
	require.Equal(t, maxReaskRetries+1, calls)
}

func TestWithReaskNudgeIsAppendedNotReplaced(t *testing.T) {
	var lastIn Input
	fn := func(in Input) (int, Output, error) {
		lastIn = in
		return 0, Output{}, errors.New("fail")
	}

	_, _, err := withReask(context.Background(), nil, Input{Messages: []model.Message{UserMessage("original")}}, fn)
	require.Error(t, err)
	require.Len(t, lastIn.Messages, maxReaskRetries+1)
	require.Equal(t, "original", lastIn.Messages[0].Parts[0].(model.TextPart).Text)
}
