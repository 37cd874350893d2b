package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/samber/lo"
)

// ErrPermanent 标记不应重试的错误
var ErrPermanent = errors.New("permanent error")

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Backoff 返回第 attempt 次失败（从 0 开始）后的等待时间
type Backoff func(attempt int) time.Duration

// LinearBackoff delay = step × (attempt+1)
func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

// ExponentialBackoff delay = min(max, base × 2^attempt)，在 [delay/2, delay] 区间随机
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		delay := base << attempt
		if delay > max || delay <= 0 {
			delay = max
		}
		half := delay / 2
		return half + time.Duration(rand.Int63n(int64(delay-half)+1))
	}
}

// NoBackoff 立即重试，测试用
func NoBackoff(int) time.Duration { return 0 }

type RetryPolicy struct {
	// MaxRetries 最大重试次数（不含首次尝试）
	MaxRetries int
	Backoff    Backoff
	// AttemptTimeout 单次尝试的超时，0 表示不限制
	AttemptTimeout time.Duration
	// Retryable 为 nil 时除 Permanent 和上下文取消外都重试
	Retryable func(error) bool
}

func (p RetryPolicy) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrPermanent) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// RetryWithBackoff 执行泛型操作 op，并在失败时按 policy 退避重试。
func RetryWithBackoff[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	maxRetries := max(policy.MaxRetries, 0)
	backoff := policy.Backoff
	if backoff == nil {
		backoff = NoBackoff
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := attemptOnce(ctx, policy.AttemptTimeout, op)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == maxRetries || !policy.shouldRetry(ctx, err) {
			break
		}

		if err := Sleep(ctx, backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	return lo.Empty[T](), fmt.Errorf("after %d retries, last error: %w", maxRetries, lastErr)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(actx)
}

// Sleep 可被上下文打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
