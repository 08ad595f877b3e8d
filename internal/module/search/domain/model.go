package domain

import (
	"context"
	"time"

	vsdomain "github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

// FilterInput は呼び出し元から受け取った未検証の絞り込み条件。空文字は条件なし
type FilterInput struct {
	// Party は政党コード（category）
	Party    string `json:"category,omitempty"`
	Chamber  string `json:"chamber,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
	State    string `json:"state,omitempty"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// SearchParams は検索条件
type SearchParams struct {
	Query  string
	K      int
	Filter FilterInput
}

// SearchResult は検索結果の1件（チャンク単位）
type SearchResult struct {
	DocumentID string           `json:"id"`
	ChunkIndex int              `json:"chunkIndex"`
	Title      string           `json:"title"`
	Date       string           `json:"date"`
	Speaker    string           `json:"speaker"`
	Party      document.Party   `json:"category"`
	Chamber    document.Chamber `json:"chamber"`
	Score      float64          `json:"score"`
	Distance   float64          `json:"distance"`
	Preview    string           `json:"preview"`
}

// SearchResponse は検索結果の一覧
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	TotalFound int            `json:"total_found"`
}

// DocumentMetadata は fetch で返すメタデータ
type DocumentMetadata struct {
	Speaker    string           `json:"speaker"`
	Party      document.Party   `json:"category"`
	Chamber    document.Chamber `json:"chamber"`
	Date       string           `json:"date"`
	Title      string           `json:"title"`
	State      *string          `json:"state,omitempty"`
	HansardRef *string          `json:"hansard_ref,omitempty"`
}

// FetchedDocument はチャンクから復元したドキュメント
type FetchedDocument struct {
	ID         string           `json:"id"`
	Metadata   DocumentMetadata `json:"metadata"`
	FullText   string           `json:"full_text"`
	ChunkCount int              `json:"chunkCount"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// QueryEmbedder は検索クエリをベクトル化するポートです
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Reader は検索・取得に必要な Store の読み取り操作です
type Reader interface {
	Search(ctx context.Context, q vsdomain.Query) ([]vsdomain.Hit, error)
	GetDocument(ctx context.Context, documentID string) (*vsdomain.StoredDocument, error)
	ListChunks(ctx context.Context, documentID string) ([]vsdomain.StoredChunk, error)
}
