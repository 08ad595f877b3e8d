package domain

import (
	"context"
	"time"

	"github.com/jinford/hansard-rag/internal/shared/document"
)

// WriteMode は既存ドキュメントがある場合の書き込み方法
type WriteMode int

const (
	// InsertOnly は既存IDがあれば ErrDocumentExists を返す
	InsertOnly WriteMode = iota
	// Replace は同一トランザクション内で既存チャンクを削除してから書き込む
	Replace
)

func (m WriteMode) String() string {
	switch m {
	case Replace:
		return "replace"
	default:
		return "insert_only"
	}
}

// AddRequest は1ドキュメント分の書き込み内容
type AddRequest struct {
	DocumentID  string
	Chunks      []document.Chunk
	Vectors     []document.EmbeddingVector
	Metadata    document.Metadata
	ContentHash string
	Mode        WriteMode
}

// Filter は検索時のメタデータ絞り込み条件。ゼロ値の項目は条件なし
type Filter struct {
	Party    document.Party
	Chamber  document.Chamber
	Speaker  string
	State    string
	DateFrom *time.Time
	DateTo   *time.Time
}

// Matches は metadata が条件を満たすかどうかを返します
func (f Filter) Matches(meta document.Metadata) bool {
	if f.Party != "" && meta.Party != f.Party {
		return false
	}
	if f.Chamber != "" && meta.Chamber != f.Chamber {
		return false
	}
	if f.Speaker != "" && meta.Speaker != f.Speaker {
		return false
	}
	if f.State != "" && (meta.State == nil || *meta.State != f.State) {
		return false
	}
	if f.DateFrom != nil && meta.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && meta.Date.After(*f.DateTo) {
		return false
	}
	return true
}

// Query はベクトル検索の条件
type Query struct {
	Vector []float32
	K      int
	Filter Filter
}

// Hit は検索結果の1件（チャンク単位）
type Hit struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   document.Metadata
	Distance   float64
	Score      float64
}

// StoredChunk は永続化されたチャンクとベクトル
type StoredChunk struct {
	DocumentID string
	Chunk      document.Chunk
	Vector     document.EmbeddingVector
}

// StoredDocument はメタデータ側テーブルの1行
type StoredDocument struct {
	Metadata       document.Metadata
	ContentHash    string
	ChunkCount     int
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stats はコレクションの統計情報
type Stats struct {
	Collection     string `json:"collection"`
	Dimension      int    `json:"dimension"`
	EmbeddingModel string `json:"embeddingModel"`
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
}

// Store はチャンク・ベクトル・メタデータを永続化するポートです。
// 書き込みはこのインターフェースを通してのみ行います
type Store interface {
	// Migrate はスキーマを作成します（冪等）
	Migrate(ctx context.Context) error

	// EnsureCollection はコレクションを作成、または次元数・モデルが一致することを確認します
	EnsureCollection(ctx context.Context, dimension int, model string) error

	// Add は1ドキュメント分のチャンクを1トランザクションで書き込みます
	Add(ctx context.Context, req AddRequest) error

	// Search はフィルタ適用後に距離の昇順（同距離はドキュメントID、チャンク番号順）で返します
	Search(ctx context.Context, q Query) ([]Hit, error)

	// Delete はドキュメントを削除し、削除したチャンク数を返します
	Delete(ctx context.Context, documentID string) (int, error)

	Exists(ctx context.Context, documentID string) (bool, error)

	// GetDocument は存在しない場合 ErrDocumentNotFound を返します
	GetDocument(ctx context.Context, documentID string) (*StoredDocument, error)

	// ListChunks はチャンク番号順にベクトル付きで返します
	ListChunks(ctx context.Context, documentID string) ([]StoredChunk, error)

	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// ValidateAdd は書き込み内容の整合性を検証します
func ValidateAdd(req AddRequest, dimension int) error {
	if req.DocumentID == "" {
		return &StorageTransactionError{Op: "add", Err: ErrInvalidRecord}
	}
	if len(req.Chunks) == 0 || len(req.Chunks) != len(req.Vectors) {
		return &StorageTransactionError{
			DocumentID: req.DocumentID,
			Op:         "add",
			Err:        errInvalidCounts(len(req.Chunks), len(req.Vectors)),
		}
	}
	for i, v := range req.Vectors {
		if v.Dimension() != dimension {
			return &StorageTransactionError{
				DocumentID: req.DocumentID,
				Op:         "add",
				Err:        errDimension(i, dimension, v.Dimension()),
			}
		}
	}
	return nil
}
