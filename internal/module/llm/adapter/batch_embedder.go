package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinford/hansard-rag/internal/module/llm/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

const (
	// DefaultBatchSize は1回の呼び出しで送るチャンク数のデフォルト値
	DefaultBatchSize = 100

	// MaxRetries はサービスエラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

// BatchEmbedder はチャンク列をバックエンドの上限に合わせてバッチ分割し、
// 入力順のベクトル列を返します
type BatchEmbedder struct {
	backend     domain.BatchBackend
	batchSize   int
	limiter     *rate.Limiter
	counter     domain.TokenCounter
	tokenBudget int
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// Option は BatchEmbedder の設定を変更します
type Option func(*BatchEmbedder)

// WithBatchSize はバッチサイズを設定します。バックエンドの上限を超える値は上限に丸められます
func WithBatchSize(size int) Option {
	return func(b *BatchEmbedder) {
		if size > 0 {
			b.batchSize = size
		}
	}
}

// WithRequestsPerSecond は呼び出しレートを制限します。0 以下は無制限
func WithRequestsPerSecond(rps float64) Option {
	return func(b *BatchEmbedder) {
		if rps > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithTokenBudget は1回の呼び出しに含める合計トークン数の上限を設定します
func WithTokenBudget(counter domain.TokenCounter, budget int) Option {
	return func(b *BatchEmbedder) {
		if counter != nil && budget > 0 {
			b.counter = counter
			b.tokenBudget = budget
		}
	}
}

// WithRetry はリトライ回数とバックオフを設定します
func WithRetry(maxRetries int, base, max time.Duration) Option {
	return func(b *BatchEmbedder) {
		if maxRetries >= 0 {
			b.maxRetries = maxRetries
		}
		if base > 0 {
			b.baseBackoff = base
		}
		if max > 0 {
			b.maxBackoff = max
		}
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(b *BatchEmbedder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBatchEmbedder は新しい BatchEmbedder を作成します
func NewBatchEmbedder(backend domain.BatchBackend, opts ...Option) *BatchEmbedder {
	b := &BatchEmbedder{
		backend:     backend,
		batchSize:   DefaultBatchSize,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		maxRetries:  MaxRetries,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if limit := backend.MaxBatchSize(); limit > 0 && b.batchSize > limit {
		b.batchSize = limit
	}
	return b
}

// ModelName はバックエンドのモデル名を返します
func (b *BatchEmbedder) ModelName() string {
	return b.backend.ModelName()
}

// Dimension はベクトルの次元数を返します
func (b *BatchEmbedder) Dimension() int {
	return b.backend.Dimension()
}

// EmbedChunks はチャンクを入力順にベクトル化します
func (b *BatchEmbedder) EmbedChunks(ctx context.Context, chunks []document.Chunk) ([]document.EmbeddingVector, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return b.EmbedTexts(ctx, texts)
}

// EmbedQuery は検索クエリ1件をベクトル化します
func (b *BatchEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0].Values, nil
}

// EmbedTexts は texts をバッチに分けて呼び出し、結果を入力順に連結します
func (b *BatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]document.EmbeddingVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := b.backend.ModelName()
	dimension := b.backend.Dimension()
	batches := b.plan(texts)

	vectors := make([]document.EmbeddingVector, 0, len(texts))
	for i, batch := range batches {
		values, err := b.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d/%d: %w", i+1, len(batches), err)
		}
		if len(values) != len(batch) {
			return nil, &domain.EmbeddingServiceError{
				Provider: model,
				Err:      fmt.Errorf("expected %d embeddings, got %d", len(batch), len(values)),
			}
		}

		for _, v := range values {
			if dimension > 0 && len(v) != dimension {
				return nil, fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dimension, len(v))
			}
			vectors = append(vectors, document.EmbeddingVector{Values: v, Model: model})
		}
	}

	return vectors, nil
}

// plan は件数上限とトークン上限の両方を満たすようにバッチを組み立てます
func (b *BatchEmbedder) plan(texts []string) [][]string {
	var batches [][]string
	var current []string
	tokens := 0

	for _, text := range texts {
		n := 0
		if b.counter != nil {
			n = b.counter.CountTokens(text)
		}

		overBudget := b.counter != nil && len(current) > 0 && tokens+n > b.tokenBudget
		if len(current) == b.batchSize || overBudget {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}

		current = append(current, text)
		tokens += n
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// embedWithRetry はサービスエラー時にExponential Backoffでリトライする
func (b *BatchEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * b.baseBackoff
			if backoffDuration > b.maxBackoff {
				backoffDuration = b.maxBackoff
			}

			b.logger.Warn("retrying embedding request",
				"attempt", attempt,
				"backoff", backoffDuration,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		values, err := b.backend.BatchEmbed(ctx, texts)
		if err == nil {
			return values, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrMaxRetriesExceeded, b.maxRetries+1, lastErr)
}
