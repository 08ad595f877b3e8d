package database

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultMaxAttempts は一時的エラーに対する最大試行回数
	DefaultMaxAttempts = 5

	// DefaultBaseBackoff はExponential Backoffの基底時間
	DefaultBaseBackoff = 200 * time.Millisecond

	// DefaultMaxBackoff はExponential Backoffの最大待機時間
	DefaultMaxBackoff = 5 * time.Second
)

// RetryPolicy はリトライの上限とバックオフ
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Notify はリトライ前に呼ばれる（ログ出力用、任意）
	Notify func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy はデフォルトのリトライポリシーを返します
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// Backoff は attempt 回目の失敗後の待機時間を返します
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseBackoff
	if d > p.MaxBackoff || d <= 0 {
		d = p.MaxBackoff
	}
	return d
}

// Retry は op を実行し、一時的エラーの場合のみバックオフ付きで再試行します。
// 恒久的エラーは1回目で返します。戻り値の attempts は実行した回数
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) (attempts int, err error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}

		if !IsTransient(err) {
			return attempt, err
		}

		if attempt >= maxAttempts {
			return attempt, fmt.Errorf("gave up after %d attempts: %w", attempt, Classify("retry", err))
		}

		wait := policy.Backoff(attempt)
		if policy.Notify != nil {
			policy.Notify(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(wait):
		}
	}
}
