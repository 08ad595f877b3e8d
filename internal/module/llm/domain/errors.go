package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded はレート制限を超えた場合のエラー
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidRequest はリクエストが不正な場合のエラー
	ErrInvalidRequest = errors.New("invalid request")

	// ErrModelNotAvailable はモデルが利用できない場合のエラー
	ErrModelNotAvailable = errors.New("model not available")

	// ErrMaxRetriesExceeded は最大リトライ回数を超えた場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrDimensionMismatch は返却ベクトルの次元数が想定と異なる場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("embedding API key not set")
)

// EmbeddingServiceError は外部 Embedding サービスの呼び出し失敗を表します。
// Permanent が false の場合はリトライ対象
type EmbeddingServiceError struct {
	Provider   string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s embedding request failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding request failed: %v", e.Provider, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error {
	return e.Err
}

// IsRetryable はエラーがリトライ可能な EmbeddingServiceError かどうかを返します
func IsRetryable(err error) bool {
	var svcErr *EmbeddingServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	return !svcErr.Permanent
}
