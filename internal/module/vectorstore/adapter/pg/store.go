package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg/sqlc"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/pkg/lock"
)

// Schema は speech_documents / speech_chunks のスキーマ定義（冪等）
//
//go:embed schema.sql
var Schema string

// DefaultCollection はコレクション名が未指定の場合に使用する名前
const DefaultCollection = "hansard"

// NativeStore は pgx プールと pgvector 型を使う Store 実装です
type NativeStore struct {
	db         *database.Manager
	collection string
	logger     *slog.Logger

	mu        sync.RWMutex
	dimension int
	model     string
}

var _ domain.Store = (*NativeStore)(nil)

// NewNativeStore は新しい NativeStore を作成します
func NewNativeStore(db *database.Manager, collection string, logger *slog.Logger) *NativeStore {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeStore{db: db, collection: collection, logger: logger}
}

// Collection はコレクション名を返します
func (s *NativeStore) Collection() string {
	return s.collection
}

// Migrate はスキーマを作成し、vector 型を登録し直すためにプールをリセットします
func (s *NativeStore) Migrate(ctx context.Context) error {
	_, err := s.db.Retry(ctx, func(ctx context.Context) error {
		return s.db.WithConn(ctx, func(conn *pgxpool.Conn) error {
			_, err := conn.Exec(ctx, Schema)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", database.Classify("migrate", err))
	}

	s.db.ResetPool()
	s.logger.Info("schema migrated", "collection", s.collection)
	return nil
}

// query はプール上のクエリを一時的エラーに限り再試行します
func (s *NativeStore) query(ctx context.Context, fn func(q *sqlc.Queries) error) error {
	_, err := s.db.Retry(ctx, func(ctx context.Context) error {
		pool, err := s.db.Pool()
		if err != nil {
			return err
		}
		return fn(sqlc.New(pool))
	})
	return err
}

func (s *NativeStore) EnsureCollection(ctx context.Context, dimension int, model string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrDimensionMismatch, dimension)
	}

	var coll sqlc.Collection
	err := s.query(ctx, func(q *sqlc.Queries) error {
		if _, err := q.GetVectorExtensionVersion(ctx); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.ExtensionMissingError("ensure collection", "vector")
			}
			return err
		}

		if err := q.CreateCollection(ctx, sqlc.CreateCollectionParams{
			Name:           s.collection,
			Dimension:      int32(dimension),
			EmbeddingModel: model,
		}); err != nil {
			return err
		}

		c, err := q.GetCollection(ctx, s.collection)
		if err != nil {
			return err
		}
		coll = c
		return nil
	})
	if err != nil {
		return database.Classify("ensure collection", err)
	}

	if int(coll.Dimension) != dimension {
		return fmt.Errorf("%w: collection %q stores %d dimensions, embedder produces %d",
			domain.ErrDimensionMismatch, s.collection, coll.Dimension, dimension)
	}
	if coll.EmbeddingModel != model {
		s.logger.Warn("embedding model differs from collection",
			"collection", s.collection,
			"collectionModel", coll.EmbeddingModel,
			"model", model)
	}

	s.mu.Lock()
	s.dimension = dimension
	s.model = coll.EmbeddingModel
	s.mu.Unlock()
	return nil
}

// collectionDimension はキャッシュ済み、もしくは保存済みの次元数を返します
func (s *NativeStore) collectionDimension(ctx context.Context) (int, error) {
	s.mu.RLock()
	dim := s.dimension
	s.mu.RUnlock()
	if dim > 0 {
		return dim, nil
	}

	var coll sqlc.Collection
	err := s.query(ctx, func(q *sqlc.Queries) error {
		c, err := q.GetCollection(ctx, s.collection)
		coll = c
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrCollectionNotInitialized
		}
		return 0, database.Classify("get collection", err)
	}

	s.mu.Lock()
	s.dimension = int(coll.Dimension)
	s.model = coll.EmbeddingModel
	s.mu.Unlock()
	return int(coll.Dimension), nil
}

// Add は1ドキュメント分のメタデータとチャンクを1トランザクションで書き込みます。
// 同一ドキュメントへの並行書き込みはアドバイザリロックで直列化します
func (s *NativeStore) Add(ctx context.Context, req domain.AddRequest) error {
	dim, err := s.collectionDimension(ctx)
	if err != nil {
		return err
	}
	if err := domain.ValidateAdd(req, dim); err != nil {
		return err
	}

	replaced, err := database.Transact(ctx, s.db, func(a *database.Adapter) (bool, error) {
		if _, err := a.Locks.Acquire(ctx, lock.DocumentLockID(s.collection, req.DocumentID)); err != nil {
			return false, err
		}

		exists, err := a.Queries.DocumentExists(ctx, sqlc.DocumentExistsParams{
			Collection: s.collection,
			DocumentID: req.DocumentID,
		})
		if err != nil {
			return false, fmt.Errorf("failed to check document: %w", err)
		}

		switch {
		case exists && req.Mode == domain.InsertOnly:
			return false, domain.ErrDocumentExists
		case exists:
			if _, err := a.Queries.DeleteChunks(ctx, sqlc.DeleteChunksParams{
				Collection: s.collection,
				DocumentID: req.DocumentID,
			}); err != nil {
				return false, fmt.Errorf("failed to delete chunks: %w", err)
			}
			if err := a.Queries.UpdateDocument(ctx, toUpdateDocumentParams(s.collection, req)); err != nil {
				return false, fmt.Errorf("failed to update document: %w", err)
			}
		default:
			if err := a.Queries.InsertDocument(ctx, toInsertDocumentParams(s.collection, req)); err != nil {
				return false, fmt.Errorf("failed to insert document: %w", err)
			}
		}

		for i, c := range req.Chunks {
			if err := a.Queries.InsertChunk(ctx, toInsertChunkParams(s.collection, req.DocumentID, c, req.Vectors[i])); err != nil {
				return false, fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
			}
		}
		return exists, nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: %w", domain.ErrDocumentExists, err)
		}
		return &domain.StorageTransactionError{DocumentID: req.DocumentID, Op: "add", Err: err}
	}

	s.logger.Debug("document stored",
		"documentId", req.DocumentID,
		"chunks", len(req.Chunks),
		"mode", req.Mode.String(),
		"replaced", replaced)
	return nil
}

func (s *NativeStore) Search(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	dim, err := s.collectionDimension(ctx)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			domain.ErrDimensionMismatch, len(q.Vector), dim)
	}

	var rows []sqlc.SearchChunksRow
	err = s.query(ctx, func(qs *sqlc.Queries) error {
		r, err := qs.SearchChunks(ctx, toSearchParams(s.collection, q))
		rows = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", database.Classify("search", err))
	}

	hits := make([]domain.Hit, len(rows))
	for i, row := range rows {
		hits[i] = toHit(row)
	}
	return hits, nil
}

func (s *NativeStore) Delete(ctx context.Context, documentID string) (int, error) {
	removed, err := database.Transact(ctx, s.db, func(a *database.Adapter) (int64, error) {
		if _, err := a.Locks.Acquire(ctx, lock.DocumentLockID(s.collection, documentID)); err != nil {
			return 0, err
		}
		n, err := a.Queries.DeleteChunks(ctx, sqlc.DeleteChunksParams{Collection: s.collection, DocumentID: documentID})
		if err != nil {
			return 0, fmt.Errorf("failed to delete chunks: %w", err)
		}
		if _, err := a.Queries.DeleteDocument(ctx, sqlc.DeleteDocumentParams{Collection: s.collection, DocumentID: documentID}); err != nil {
			return 0, fmt.Errorf("failed to delete document: %w", err)
		}
		return n, nil
	})
	if err != nil {
		return 0, &domain.StorageTransactionError{DocumentID: documentID, Op: "delete", Err: err}
	}
	return int(removed), nil
}

func (s *NativeStore) Exists(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := s.query(ctx, func(q *sqlc.Queries) error {
		e, err := q.DocumentExists(ctx, sqlc.DocumentExistsParams{Collection: s.collection, DocumentID: documentID})
		exists = e
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", database.Classify("exists", err))
	}
	return exists, nil
}

func (s *NativeStore) GetDocument(ctx context.Context, documentID string) (*domain.StoredDocument, error) {
	var row sqlc.SpeechDocument
	err := s.query(ctx, func(q *sqlc.Queries) error {
		r, err := q.GetDocument(ctx, sqlc.GetDocumentParams{Collection: s.collection, DocumentID: documentID})
		row = r
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", database.Classify("get document", err))
	}
	return toStoredDocument(row), nil
}

func (s *NativeStore) ListChunks(ctx context.Context, documentID string) ([]domain.StoredChunk, error) {
	var rows []sqlc.ListChunksRow
	err := s.query(ctx, func(q *sqlc.Queries) error {
		r, err := q.ListChunks(ctx, sqlc.ListChunksParams{Collection: s.collection, DocumentID: documentID})
		rows = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", database.Classify("list chunks", err))
	}

	chunks := make([]domain.StoredChunk, len(rows))
	for i, r := range rows {
		chunks[i] = ChunkFromColumns(documentID, r.ChunkIndex, r.StartOffset, r.CharLength, r.Content, r.Embedding, r.EmbeddingModel)
	}
	return chunks, nil
}

func (s *NativeStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var (
		coll  sqlc.Collection
		count sqlc.CollectionStatsRow
	)
	err := s.query(ctx, func(q *sqlc.Queries) error {
		c, err := q.GetCollection(ctx, s.collection)
		if err != nil {
			return err
		}
		coll = c
		count, err = q.CollectionStats(ctx, s.collection)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCollectionNotInitialized
		}
		return nil, fmt.Errorf("failed to get stats: %w", database.Classify("stats", err))
	}

	return &domain.Stats{
		Collection:     s.collection,
		Dimension:      int(coll.Dimension),
		EmbeddingModel: coll.EmbeddingModel,
		Documents:      int(count.Documents),
		Chunks:         int(count.Chunks),
	}, nil
}

// Close は何もしません。コネクションは Manager が所有します
func (s *NativeStore) Close() error {
	return nil
}
