package testing

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
)

// MemoryStore はテスト用のインメモリ Store 実装です。
// AddHook が設定されている場合、書き込み前に呼ばれエラーを返すと書き込みを中止します
type MemoryStore struct {
	AddHook func(ctx context.Context, req domain.AddRequest) error

	mu        sync.RWMutex
	dimension int
	model     string
	docs      map[string]*domain.StoredDocument
	chunks    map[string][]domain.StoredChunk
	addCalls  int
}

// NewMemoryStore は空の MemoryStore を作成します
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*domain.StoredDocument),
		chunks: make(map[string][]domain.StoredChunk),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, dimension int, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 && s.dimension != dimension {
		return domain.ErrDimensionMismatch
	}
	s.dimension = dimension
	s.model = model
	return nil
}

func (s *MemoryStore) Add(ctx context.Context, req domain.AddRequest) error {
	if s.AddHook != nil {
		if err := s.AddHook(ctx, req); err != nil {
			return &domain.StorageTransactionError{DocumentID: req.DocumentID, Op: "add", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++

	if s.dimension == 0 {
		return domain.ErrCollectionNotInitialized
	}
	if err := domain.ValidateAdd(req, s.dimension); err != nil {
		return err
	}

	existing, ok := s.docs[req.DocumentID]
	if ok && req.Mode == domain.InsertOnly {
		return &domain.StorageTransactionError{DocumentID: req.DocumentID, Op: "add", Err: domain.ErrDocumentExists}
	}

	now := time.Now()
	created := now
	if ok {
		created = existing.CreatedAt
	}

	rows := make([]domain.StoredChunk, len(req.Chunks))
	for i, c := range req.Chunks {
		rows[i] = domain.StoredChunk{DocumentID: req.DocumentID, Chunk: c, Vector: req.Vectors[i]}
	}
	s.chunks[req.DocumentID] = rows
	s.docs[req.DocumentID] = &domain.StoredDocument{
		Metadata:       req.Metadata,
		ContentHash:    req.ContentHash,
		ChunkCount:     len(rows),
		EmbeddingModel: req.Vectors[0].Model,
		CreatedAt:      created,
		UpdatedAt:      now,
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension == 0 {
		return nil, domain.ErrCollectionNotInitialized
	}
	if len(q.Vector) != s.dimension {
		return nil, domain.ErrDimensionMismatch
	}

	var hits []domain.Hit
	for id, rows := range s.chunks {
		meta := s.docs[id].Metadata
		if !q.Filter.Matches(meta) {
			continue
		}
		for _, r := range rows {
			d := CosineDistance(q.Vector, r.Vector.Values)
			hits = append(hits, domain.Hit{
				DocumentID: id,
				ChunkIndex: r.Chunk.Index,
				Text:       r.Chunk.Text,
				Metadata:   meta,
				Distance:   d,
				Score:      1 - d,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})

	if q.K > 0 && len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func (s *MemoryStore) Delete(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.chunks[documentID])
	delete(s.chunks, documentID)
	delete(s.docs, documentID)
	return n, nil
}

func (s *MemoryStore) Exists(ctx context.Context, documentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.docs[documentID]
	return ok, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, documentID string) (*domain.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListChunks(ctx context.Context, documentID string) ([]domain.StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.chunks[documentID]
	out := make([]domain.StoredChunk, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, rows := range s.chunks {
		total += len(rows)
	}
	return &domain.Stats{
		Collection:     "memory",
		Dimension:      s.dimension,
		EmbeddingModel: s.model,
		Documents:      len(s.docs),
		Chunks:         total,
	}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// AddCalls は Add が書き込みまで到達した回数を返します
func (s *MemoryStore) AddCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addCalls
}

// ChunkCount はドキュメントの保存済みチャンク数を返します
func (s *MemoryStore) ChunkCount(documentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID])
}

// CosineDistance は pgvector の <=> と同じコサイン距離を計算します
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ domain.Store = (*MemoryStore)(nil)
