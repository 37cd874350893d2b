package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	res, err := RetryWithBackoff(context.Background(), RetryPolicy{MaxRetries: 2}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("timeout")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := RetryWithBackoff(context.Background(), RetryPolicy{MaxRetries: 2}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), RetryPolicy{MaxRetries: 5}, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("insufficient margin"))
	})

	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ClassifierRejects(t *testing.T) {
	calls := 0
	policy := RetryPolicy{
		MaxRetries: 3,
		Retryable:  func(error) bool { return false },
	}
	_, err := RetryWithBackoff(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("rejected")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxRetries: 1, AttemptTimeout: 10 * time.Millisecond}
	res, err := RetryWithBackoff(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 2, calls)
}

func TestRetryWithBackoff_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithBackoff(ctx, RetryPolicy{MaxRetries: 3, Backoff: LinearBackoff(time.Hour)}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("net down")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffs(t *testing.T) {
	linear := LinearBackoff(time.Second)
	assert.Equal(t, time.Second, linear(0))
	assert.Equal(t, 2*time.Second, linear(1))

	exp := ExponentialBackoff(100*time.Millisecond, time.Second)
	for attempt := range 6 {
		d := exp(attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Positive(t, d)
	}
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, SharpeRatio(nil))
	assert.Zero(t, SharpeRatio([]float64{100, 101}))
	// 无波动但持续增长
	assert.Equal(t, 10.0, SharpeRatio([]float64{100, 110, 121, 133.1}))
	assert.Positive(t, SharpeRatio([]float64{100, 102, 101, 104, 106}))
}

func TestParseResult_RepairsTrailingComma(t *testing.T) {
	type payload struct {
		Analysis string `json:"analysis"`
	}
	res, err := ParseResult[payload](`{"analysis": "hold",}`)
	require.NoError(t, err)
	assert.Equal(t, "hold", res.Analysis)
}
