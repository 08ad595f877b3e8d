package domain

import (
	"context"

	"github.com/jinford/hansard-rag/internal/shared/document"
)

// Parser は生の発言記録をパース・検証するポートです
type Parser interface {
	Parse(ref string, raw []byte) (*document.SourceDocument, error)
}

// Chunker は本文をオーバーラップ付きのチャンクへ分割するポートです
type Chunker interface {
	Split(text string) ([]document.Chunk, error)
}

// ChunkEmbedder はチャンク列を順序通りにベクトル化するポートです
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []document.Chunk) ([]document.EmbeddingVector, error)
	ModelName() string
	Dimension() int
}

// DocumentSource はドキュメント参照から生データを読み出すポートです
type DocumentSource interface {
	Read(ctx context.Context, ref string) ([]byte, error)
	// Discover は dir 配下で pattern に一致する参照をソート済みで返します
	Discover(ctx context.Context, dir, pattern string) ([]string, error)
}
