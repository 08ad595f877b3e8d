package domain

import "context"

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed はテキストからEmbeddingベクトルを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension はEmbeddingベクトルの次元数を返す
	Dimension() int
}

// BatchBackend は1回の呼び出しで複数テキストをベクトル化する外部サービス
type BatchBackend interface {
	Embedder

	// BatchEmbed は texts と同じ順序でベクトルを返す。len(texts) は MaxBatchSize 以下
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はベクトルに付与するモデル識別子
	ModelName() string

	// MaxBatchSize はサービスが1回の呼び出しで受け付ける最大件数
	MaxBatchSize() int
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}
