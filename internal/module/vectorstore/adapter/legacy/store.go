package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/panjf2000/ants/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/pkg/lock"
)

// Store は同期的な database/sql ドライバを使う Store 実装です。
// すべての呼び出しは有限サイズのワーカープールへ退避し、完了かキャンセルを待ちます
type Store struct {
	db         *database.Manager
	collection string
	pool       *ants.Pool
	logger     *slog.Logger

	mu        sync.RWMutex
	dimension int
}

var _ domain.Store = (*Store)(nil)

// Option は Store の設定を変更します
type Option func(*Store) error

// WithPoolSize はワーカープールのサイズを設定します。
// デフォルトは runtime.NumCPU()、最小は 1
func WithPoolSize(size int) Option {
	return func(s *Store) error {
		if size < 1 {
			size = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := newPool(size)
		if err != nil {
			return err
		}
		s.pool = pool
		return nil
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewStore は新しい Store を作成します
func NewStore(db *database.Manager, collection string, opts ...Option) (*Store, error) {
	if collection == "" {
		collection = pg.DefaultCollection
	}

	pool, err := newPool(runtime.NumCPU())
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:         db,
		collection: collection,
		pool:       pool,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.pool.Release()
			return nil, err
		}
	}
	return s, nil
}

// PoolSize はワーカープールの容量を返します
func (s *Store) PoolSize() int {
	return s.pool.Cap()
}

// submitRetryInterval はプールが満杯のときに再投入するまでの間隔です
const submitRetryInterval = 5 * time.Millisecond

// newPool は非ブロッキングのワーカープールを作成します。
// 満杯時は Submit が即座に ErrPoolOverload を返し、待機は submit 側で ctx と一緒に行います
func newPool(size int) (*ants.Pool, error) {
	return ants.NewPool(size, ants.WithNonblocking(true))
}

// offload は fn をワーカープールで実行し、完了か ctx のキャンセルを待ちます。
// キャンセル時も fn 自体は ctx を受け取っているため、ドライバ側で中断されます
func (s *Store) offload(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := s.db.StdDB()
	if err != nil {
		return err
	}
	return submit(ctx, s.pool, func() error {
		return fn(db)
	})
}

// submit は task をプールへ投入し、完了か ctx のキャンセルを待ちます。
// 全ワーカーが埋まっている間も ctx を監視します
func submit(ctx context.Context, pool *ants.Pool, task func() error) error {
	done := make(chan error, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := pool.Submit(func() {
			done <- task()
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("failed to submit to worker pool: %w", err)
		}

		timer := time.NewTimer(submitRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call は offload を一時的エラーに限り再試行します
func (s *Store) call(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	_, err := s.db.Retry(ctx, func(ctx context.Context) error {
		return s.offload(ctx, func(db *sql.DB) error {
			return fn(ctx, db)
		})
	})
	return err
}

func (s *Store) Migrate(ctx context.Context) error {
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, pg.Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", database.Classify("migrate", err))
	}
	s.db.ResetPool()
	s.logger.Info("schema migrated", "collection", s.collection, "driver", "legacy")
	return nil
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int, model string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrDimensionMismatch, dimension)
	}

	var (
		storedDim   int
		storedModel string
	)
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		var version string
		if err := db.QueryRowContext(ctx, getExtensionSQL).Scan(&version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ExtensionMissingError("ensure collection", "vector")
			}
			return err
		}
		if _, err := db.ExecContext(ctx, createCollectionSQL, s.collection, dimension, model); err != nil {
			return err
		}
		return db.QueryRowContext(ctx, getCollectionSQL, s.collection).Scan(&storedDim, &storedModel)
	})
	if err != nil {
		return database.Classify("ensure collection", err)
	}

	if storedDim != dimension {
		return fmt.Errorf("%w: collection %q stores %d dimensions, embedder produces %d",
			domain.ErrDimensionMismatch, s.collection, storedDim, dimension)
	}
	if storedModel != model {
		s.logger.Warn("embedding model differs from collection",
			"collection", s.collection,
			"collectionModel", storedModel,
			"model", model)
	}

	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

func (s *Store) collectionDimension(ctx context.Context) (int, error) {
	s.mu.RLock()
	dim := s.dimension
	s.mu.RUnlock()
	if dim > 0 {
		return dim, nil
	}

	var model string
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, getCollectionSQL, s.collection).Scan(&dim, &model)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrCollectionNotInitialized
		}
		return 0, database.Classify("get collection", err)
	}

	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
	return dim, nil
}

func (s *Store) Add(ctx context.Context, req domain.AddRequest) error {
	dim, err := s.collectionDimension(ctx)
	if err != nil {
		return err
	}
	if err := domain.ValidateAdd(req, dim); err != nil {
		return err
	}

	err = s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		return s.addTx(ctx, db, req)
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			err = fmt.Errorf("%w: %w", domain.ErrDocumentExists, err)
		}
		return &domain.StorageTransactionError{DocumentID: req.DocumentID, Op: "add", Err: err}
	}
	return nil
}

func (s *Store) addTx(ctx context.Context, db *sql.DB, req domain.AddRequest) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
			}
		}
	}()

	if _, err := lock.AcquireSQL(ctx, tx, lock.DocumentLockID(s.collection, req.DocumentID)); err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, documentExistsSQL, s.collection, req.DocumentID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check document: %w", err)
	}

	m := req.Metadata
	docArgs := []any{
		s.collection, req.DocumentID, m.Speaker, string(m.Party), string(m.Chamber),
		pg.TimeToPgdate(m.Date), m.Title, pg.StringPtrToPgtext(m.State), pg.StringPtrToPgtext(m.HansardRef),
		req.ContentHash, req.Vectors[0].Model, len(req.Chunks),
	}

	switch {
	case exists && req.Mode == domain.InsertOnly:
		return domain.ErrDocumentExists
	case exists:
		if _, err := tx.ExecContext(ctx, deleteChunksSQL, s.collection, req.DocumentID); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, updateDocumentSQL, docArgs...); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx, insertDocumentSQL, docArgs...); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, insertChunkSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range req.Chunks {
		v := req.Vectors[i]
		if _, err := stmt.ExecContext(ctx, s.collection, req.DocumentID, c.Index, c.Start, c.Length,
			c.Text, pgvector.NewVector(v.Values), v.Model); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	dim, err := s.collectionDimension(ctx)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			domain.ErrDimensionMismatch, len(q.Vector), dim)
	}

	f := q.Filter
	var hits []domain.Hit
	err = s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, searchChunksSQL,
			pgvector.NewVector(q.Vector),
			s.collection,
			pg.StringToNullableText(string(f.Party)),
			pg.StringToNullableText(string(f.Chamber)),
			pg.StringToNullableText(f.Speaker),
			pg.StringToNullableText(f.State),
			pg.TimePtrToPgdate(f.DateFrom),
			pg.TimePtrToPgdate(f.DateTo),
			q.K,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var (
				id, content, speaker, party, chamber, title string
				index                                       int32
				date                                        pgtype.Date
				state, ref                                  pgtype.Text
				distance                                    float64
			)
			if err := rows.Scan(&id, &index, &content, &speaker, &party, &chamber, &date, &title, &state, &ref, &distance); err != nil {
				return err
			}
			hits = append(hits, domain.Hit{
				DocumentID: id,
				ChunkIndex: int(index),
				Text:       content,
				Metadata:   pg.MetadataFromColumns(id, speaker, party, chamber, date, title, state, ref),
				Distance:   distance,
				Score:      1 - distance,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", database.Classify("search", err))
	}
	return hits, nil
}

func (s *Store) Delete(ctx context.Context, documentID string) (int, error) {
	var removed int64
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) (err error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		if _, err := lock.AcquireSQL(ctx, tx, lock.DocumentLockID(s.collection, documentID)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, deleteChunksSQL, s.collection, documentID)
		if err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteDocumentSQL, s.collection, documentID); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, &domain.StorageTransactionError{DocumentID: documentID, Op: "delete", Err: err}
	}
	return int(removed), nil
}

func (s *Store) Exists(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, documentExistsSQL, s.collection, documentID).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", database.Classify("exists", err))
	}
	return exists, nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (*domain.StoredDocument, error) {
	var (
		speaker, party, chamber, title, hash, model string
		date                                        pgtype.Date
		state, ref                                  pgtype.Text
		chunkCount                                  int
		created, updated                            pgtype.Timestamp
	)
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, getDocumentSQL, s.collection, documentID).Scan(
			&speaker, &party, &chamber, &date, &title, &state, &ref,
			&hash, &model, &chunkCount, &created, &updated)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", database.Classify("get document", err))
	}

	return &domain.StoredDocument{
		Metadata:       pg.MetadataFromColumns(documentID, speaker, party, chamber, date, title, state, ref),
		ContentHash:    hash,
		ChunkCount:     chunkCount,
		EmbeddingModel: model,
		CreatedAt:      pg.PgtypeToTime(created),
		UpdatedAt:      pg.PgtypeToTime(updated),
	}, nil
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]domain.StoredChunk, error) {
	var chunks []domain.StoredChunk
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, listChunksSQL, s.collection, documentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		chunks = chunks[:0]
		for rows.Next() {
			var (
				index, start, length int32
				content, model       string
				embedding            pgvector.Vector
			)
			if err := rows.Scan(&index, &start, &length, &content, &embedding, &model); err != nil {
				return err
			}
			chunks = append(chunks, pg.ChunkFromColumns(documentID, index, start, length, content, embedding, model))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", database.Classify("list chunks", err))
	}
	return chunks, nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{Collection: s.collection}
	err := s.call(ctx, func(ctx context.Context, db *sql.DB) error {
		if err := db.QueryRowContext(ctx, getCollectionSQL, s.collection).Scan(&stats.Dimension, &stats.EmbeddingModel); err != nil {
			return err
		}
		return db.QueryRowContext(ctx, collectionStatsSQL, s.collection).Scan(&stats.Documents, &stats.Chunks)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCollectionNotInitialized
		}
		return nil, fmt.Errorf("failed to get stats: %w", database.Classify("stats", err))
	}
	return stats, nil
}

// Close はワーカープールを解放します。コネクションは Manager が所有します
func (s *Store) Close() error {
	s.pool.Release()
	return nil
}
