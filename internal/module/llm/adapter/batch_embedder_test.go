package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hansard-rag/internal/module/llm/adapter"
	"github.com/jinford/hansard-rag/internal/module/llm/domain"
	llmtest "github.com/jinford/hansard-rag/internal/module/llm/testing"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastRetry() adapter.Option {
	return adapter.WithRetry(3, time.Millisecond, 2*time.Millisecond)
}

func TestBatchEmbedder_SplitsIntoBatchesInOrder(t *testing.T) {
	// Setup
	backend := &llmtest.MockBatchBackend{MaxBatch: 100}
	embedder := adapter.NewBatchEmbedder(backend, adapter.WithBatchSize(100), adapter.WithLogger(newLogger()))

	chunks := make([]document.Chunk, 250)
	for i := range chunks {
		chunks[i] = document.Chunk{Index: i, Text: fmt.Sprintf("chunk-%03d", i)}
	}

	// Execute
	vectors, err := embedder.EmbedChunks(context.Background(), chunks)

	// Assert
	require.NoError(t, err)
	require.Len(t, vectors, 250)

	calls := backend.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 100)
	assert.Len(t, calls[1], 100)
	assert.Len(t, calls[2], 50)
	assert.Equal(t, "chunk-100", calls[1][0])

	for i, v := range vectors {
		assert.Equal(t, llmtest.HashVector(chunks[i].Text, 8), v.Values)
		assert.Equal(t, "mock-embedding", v.Model)
	}
}

func TestBatchEmbedder_BatchSizeCappedByBackend(t *testing.T) {
	backend := &llmtest.MockBatchBackend{MaxBatch: 10}
	embedder := adapter.NewBatchEmbedder(backend, adapter.WithBatchSize(100))

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}

	_, err := embedder.EmbedTexts(context.Background(), texts)

	require.NoError(t, err)
	assert.Len(t, backend.Calls(), 3)
}

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func TestBatchEmbedder_TokenBudget(t *testing.T) {
	backend := &llmtest.MockBatchBackend{MaxBatch: 100}
	embedder := adapter.NewBatchEmbedder(backend, adapter.WithTokenBudget(wordCounter{}, 5))

	texts := []string{"a b c", "d e", "f g h", "i", "j k l m n o p"}

	vectors, err := embedder.EmbedTexts(context.Background(), texts)

	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	// 3+2 / 3+1 / 7 (単独で上限超過でも1件は送る)
	assert.Equal(t, [][]string{{"a b c", "d e"}, {"f g h", "i"}, {"j k l m n o p"}}, backend.Calls())
}

func TestBatchEmbedder_RetriesTransientErrors(t *testing.T) {
	// Setup
	attempts := 0
	backend := &llmtest.MockBatchBackend{
		BatchEmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts < 3 {
				return nil, &domain.EmbeddingServiceError{Provider: "mock", StatusCode: 503, Err: errors.New("unavailable")}
			}
			return [][]float32{llmtest.HashVector(texts[0], 8)}, nil
		},
	}
	embedder := adapter.NewBatchEmbedder(backend, fastRetry(), adapter.WithLogger(newLogger()))

	// Execute
	vec, err := embedder.EmbedQuery(context.Background(), "housing affordability")

	// Assert
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 3, attempts)
}

func TestBatchEmbedder_RetryExhaustion(t *testing.T) {
	attempts := 0
	backend := &llmtest.MockBatchBackend{
		BatchEmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			attempts++
			return nil, &domain.EmbeddingServiceError{Provider: "mock", StatusCode: 429, Err: domain.ErrRateLimitExceeded}
		},
	}
	embedder := adapter.NewBatchEmbedder(backend, fastRetry(), adapter.WithLogger(newLogger()))

	_, err := embedder.EmbedTexts(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)
	assert.Equal(t, 4, attempts)
}

func TestBatchEmbedder_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	backend := &llmtest.MockBatchBackend{
		BatchEmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			attempts++
			return nil, &domain.EmbeddingServiceError{Provider: "mock", StatusCode: 401, Permanent: true, Err: errors.New("bad key")}
		},
	}
	embedder := adapter.NewBatchEmbedder(backend, fastRetry())

	_, err := embedder.EmbedTexts(context.Background(), []string{"x"})

	var svcErr *domain.EmbeddingServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 401, svcErr.StatusCode)
	assert.Equal(t, 1, attempts)
}

func TestBatchEmbedder_DimensionMismatch(t *testing.T) {
	backend := &llmtest.MockBatchBackend{
		Dim: 4,
		BatchEmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 2, 3}}, nil
		},
	}
	embedder := adapter.NewBatchEmbedder(backend)

	_, err := embedder.EmbedTexts(context.Background(), []string{"x"})

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestBatchEmbedder_ContextCanceled(t *testing.T) {
	backend := &llmtest.MockBatchBackend{
		BatchEmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, &domain.EmbeddingServiceError{Provider: "mock", Err: errors.New("boom")}
		},
	}
	embedder := adapter.NewBatchEmbedder(backend, adapter.WithRetry(3, time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := embedder.EmbedTexts(ctx, []string{"x"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchEmbedder_Empty(t *testing.T) {
	backend := &llmtest.MockBatchBackend{}
	embedder := adapter.NewBatchEmbedder(backend)

	vectors, err := embedder.EmbedChunks(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, backend.Calls())
}
