package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/jinford/hansard-rag/internal/module/llm/domain"
)

const (
	// DefaultOllamaURL はローカル Ollama サーバーのデフォルトURL
	DefaultOllamaURL = "http://localhost:11434"

	// OllamaMaxBatchSize は1回の Embed 呼び出しで送る最大件数
	OllamaMaxBatchSize = 64

	providerOllama = "ollama"
)

// OllamaEmbedder は Ollama の /api/embed を使用した Embedder 実装
type OllamaEmbedder struct {
	client    *ollama.Client
	model     string
	dimension int
}

// NewOllamaEmbedder は新しい OllamaEmbedder を作成します
func NewOllamaEmbedder(baseURL, model string, dimension int) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		return nil, fmt.Errorf("%w: ollama model is required", domain.ErrInvalidRequest)
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}

	return &OllamaEmbedder{
		client:    ollama.NewClient(parsed, hc),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed は単一テキストのベクトルを生成します
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimension はEmbeddingベクトルの次元数を返す
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を返します
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// MaxBatchSize は1回の呼び出しの最大件数を返します
func (e *OllamaEmbedder) MaxBatchSize() int {
	return OllamaMaxBatchSize
}

// BatchEmbed は texts をまとめてベクトル化します
func (e *OllamaEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", domain.ErrInvalidRequest)
	}

	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, classifyOllamaError(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &domain.EmbeddingServiceError{
			Provider: providerOllama,
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	return resp.Embeddings, nil
}

func classifyOllamaError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	svcErr := &domain.EmbeddingServiceError{Provider: providerOllama, Err: err}

	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) {
		svcErr.StatusCode = statusErr.StatusCode
		if statusErr.StatusCode == http.StatusNotFound {
			svcErr.Permanent = true
			svcErr.Err = fmt.Errorf("%w: %w", domain.ErrModelNotAvailable, err)
		}
	}

	return svcErr
}

var _ domain.BatchBackend = (*OllamaEmbedder)(nil)
