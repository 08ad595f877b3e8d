package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/hansard-rag/internal/module/llm/domain"
)

const (
	// OpenAIMaxBatchSize は Embeddings API が1回に受け付ける最大入力件数
	OpenAIMaxBatchSize = 100

	// DefaultOpenAIModel はデフォルトの Embedding モデル
	DefaultOpenAIModel = "text-embedding-3-small"

	providerOpenAI = "openai"
)

// OpenAIEmbedder はOpenAI APIを使用したEmbedder実装
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder は新しいOpenAIEmbedderを作成します。baseURL が空の場合は公式エンドポイントを使用します
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimension int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, domain.ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// リトライは BatchEmbedder 側で行う
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed はテキストからEmbeddingベクトルを生成する
// domain.Embedderインターフェースを実装
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// Dimension はEmbeddingベクトルの次元数を返す
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を返します
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// MaxBatchSize は1回の呼び出しの最大件数を返します
func (e *OpenAIEmbedder) MaxBatchSize() int {
	return OpenAIMaxBatchSize
}

// BatchEmbed はバッチでEmbeddingを生成します（最大100件）
func (e *OpenAIEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", domain.ErrInvalidRequest)
	}

	if len(texts) > OpenAIMaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum of %d", domain.ErrInvalidRequest, len(texts), OpenAIMaxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	// dimensionパラメータを追加（text-embedding-3-smallなどで有効）
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, &domain.EmbeddingServiceError{
			Provider: providerOpenAI,
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	// index 順に並べ直す
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, &domain.EmbeddingServiceError{
				Provider: providerOpenAI,
				Err:      fmt.Errorf("embedding index %d out of range", data.Index),
			}
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}

	return embeddings, nil
}

// classifyOpenAIError は SDK のエラーを EmbeddingServiceError に変換します。
// 認証・リクエスト不正のみ恒久エラーとし、それ以外はリトライ対象にする
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	svcErr := &domain.EmbeddingServiceError{Provider: providerOpenAI, Err: err}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		svcErr.StatusCode = apiErr.StatusCode
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			svcErr.Err = fmt.Errorf("%w: %w", domain.ErrRateLimitExceeded, err)
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			svcErr.Permanent = true
		case http.StatusNotFound:
			svcErr.Permanent = true
			svcErr.Err = fmt.Errorf("%w: %w", domain.ErrModelNotAvailable, err)
		}
	}

	return svcErr
}

// インターフェース実装の確認
var _ domain.BatchBackend = (*OpenAIEmbedder)(nil)
