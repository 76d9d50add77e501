package agentrole

import (
	"context"
	"fmt"

	"github.com/durch/agneto/internal/model"
)

// maxReaskRetries bounds the re-ask loop on schema mismatch for roles that
// must return structured JSON (Reviewer plan/code verdicts, Coder plan
// proposals, SuperReviewer verdicts).
const maxReaskRetries = 2

// withReask calls fn, and on any error from it (an *ErrNoStructuredOutput,
// a decode error, or a provider-call failure alike) re-invokes fn with a
// clarifying nudge appended to the conversation, up to maxReaskRetries
// times, before giving up.
func withReask[T any](ctx context.Context, client model.Client, in Input, fn func(Input) (T, Output, error)) (T, Output, error) {
	attemptIn := in
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxReaskRetries; attempt++ {
		v, out, err := fn(attemptIn)
		if err == nil {
			return v, out, nil
		}
		lastErr = err
		attemptIn.Messages = append(attemptIn.Messages, UserMessage(
			"Your previous response did not include the required structured JSON verdict. Respond again with only the JSON object.",
		))
	}
	return zero, Output{}, fmt.Errorf("agentrole: exhausted %d re-ask retries: %w", maxReaskRetries, lastErr)
}
