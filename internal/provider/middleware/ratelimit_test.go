package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/taskerr"
)

type stubClient struct {
	err error
}

func (s *stubClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	return model.Response{}, s.err
}

func (s *stubClient) Stream(_ context.Context, _ model.Request) (model.Streamer, error) {
	return nil, s.err
}

func TestNewAdaptiveRateLimiterClampsDefaults(t *testing.T) {
	l := NewAdaptiveRateLimiter(0, 0)
	require.Equal(t, 60000.0, l.currentTPM)
	require.Equal(t, l.currentTPM, l.maxTPM)
}

func TestBackoffHalvesBudgetOnRateLimitError(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	client := l.Middleware()(&stubClient{err: taskerr.Wrap(taskerr.KindProvider, "throttled", taskerr.ErrRateLimited)})

	before := l.currentTPM
	_, err := client.Complete(context.Background(), model.Request{})
	require.Error(t, err)
	require.Less(t, l.currentTPM, before)
}

func TestProbeGrowsBudgetOnSuccessUpToMax(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 1010)
	client := l.Middleware()(&stubClient{})

	_, err := client.Complete(context.Background(), model.Request{})
	require.NoError(t, err)
	require.Greater(t, l.currentTPM, 1000.0)
	require.LessOrEqual(t, l.currentTPM, 1010.0)
}

func TestBackoffNeverDropsBelowMinTPM(t *testing.T) {
	l := NewAdaptiveRateLimiter(10, 10)
	client := l.Middleware()(&stubClient{err: taskerr.ErrRateLimited})

	for i := 0; i < 10; i++ {
		_, _ = client.Complete(context.Background(), model.Request{})
	}
	require.GreaterOrEqual(t, l.currentTPM, l.minTPM)
}

func TestMiddlewareWrapsNilClientAsNil(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 1000)
	require.Nil(t, l.Middleware()(nil))
}

func TestObserveIgnoresNonRateLimitErrors(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 1000)
	client := l.Middleware()(&stubClient{err: errors.New("boom")})

	before := l.currentTPM
	_, err := client.Complete(context.Background(), model.Request{})
	require.Error(t, err)
	require.Equal(t, before, l.currentTPM)
}
