package testing

import (
	"context"
	stdtesting "testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

const (
	contractDimension = 4
	contractModel     = "contract-model"
)

// StoreFactory は毎回独立したコレクションを持つ Store を返します
type StoreFactory func(t *stdtesting.T) domain.Store

// RunStoreContract は Store 実装が満たすべき振る舞いを検証します
func RunStoreContract(t *stdtesting.T, newStore StoreFactory) {
	t.Run("次元数の不一致", func(t *stdtesting.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.EnsureCollection(ctx, contractDimension, contractModel))

		assert.ErrorIs(t, store.EnsureCollection(ctx, contractDimension*2, contractModel), domain.ErrDimensionMismatch)

		req := contractRequest("doc-dim", domain.InsertOnly, "a")
		req.Vectors[0].Values = []float32{1, 2}
		assert.ErrorIs(t, store.Add(ctx, req), domain.ErrDimensionMismatch)

		_, err := store.Search(ctx, domain.Query{Vector: []float32{1}, K: 1})
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("InsertOnly は既存IDを拒否する", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)

		require.NoError(t, store.Add(ctx, contractRequest("doc-1", domain.InsertOnly, "first", "second")))
		err := store.Add(ctx, contractRequest("doc-1", domain.InsertOnly, "other"))

		var txErr *domain.StorageTransactionError
		require.ErrorAs(t, err, &txErr)
		assert.ErrorIs(t, err, domain.ErrDocumentExists)
		assert.Equal(t, 2, len(mustListChunks(t, store, "doc-1")))
	})

	t.Run("Replace は全チャンクを置き換える", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)

		require.NoError(t, store.Add(ctx, contractRequest("doc-1", domain.InsertOnly, "a", "b", "c")))
		before, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)

		require.NoError(t, store.Add(ctx, contractRequest("doc-1", domain.Replace, "x", "y")))

		chunks := mustListChunks(t, store, "doc-1")
		require.Len(t, chunks, 2)
		assert.Equal(t, "x", chunks[0].Chunk.Text)
		assert.Equal(t, "y", chunks[1].Chunk.Text)
		assert.Equal(t, 1, chunks[1].Chunk.Index)
		assert.Equal(t, contractModel, chunks[0].Vector.Model)
		assert.Len(t, chunks[0].Vector.Values, contractDimension)

		after, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, 2, after.ChunkCount)
		assert.WithinDuration(t, before.CreatedAt, after.CreatedAt, time.Second)
	})

	t.Run("メタデータの往復", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)

		req := contractRequest("doc-meta", domain.InsertOnly, "body")
		state, ref := "TAS", "HANSARD-2024-03-14-27"
		req.Metadata.State = &state
		req.Metadata.HansardRef = &ref
		require.NoError(t, store.Add(ctx, req))

		doc, err := store.GetDocument(ctx, "doc-meta")
		require.NoError(t, err)
		assert.Equal(t, "Jane Citizen", doc.Metadata.Speaker)
		assert.Equal(t, document.Party("ALP"), doc.Metadata.Party)
		assert.Equal(t, document.ChamberHouse, doc.Metadata.Chamber)
		assert.Equal(t, "2024-03-14", doc.Metadata.Date.Format(document.DateLayout))
		require.NotNil(t, doc.Metadata.State)
		assert.Equal(t, "TAS", *doc.Metadata.State)
		require.NotNil(t, doc.Metadata.HansardRef)
		assert.Equal(t, ref, *doc.Metadata.HansardRef)
		assert.Equal(t, req.ContentHash, doc.ContentHash)
	})

	t.Run("検索は距離順でフィルタを適用する", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)

		alp := contractRequest("doc-alp", domain.InsertOnly, "alp-0", "alp-1")
		grn := contractRequest("doc-grn", domain.InsertOnly, "grn-0")
		grn.Metadata.Party = "GRN"
		grn.Metadata.Chamber = document.ChamberSenate
		grn.Metadata.Date = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
		grn.Vectors[0].Values = []float32{0, 0, 1, 0}
		require.NoError(t, store.Add(ctx, alp))
		require.NoError(t, store.Add(ctx, grn))

		hits, err := store.Search(ctx, domain.Query{Vector: []float32{0, 0, 1, 0}, K: 10})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "doc-grn", hits[0].DocumentID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
		assert.InDelta(t, 1, hits[0].Score, 1e-6)
		assert.Equal(t, "grn-0", hits[0].Text)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i].Distance, hits[i-1].Distance)
		}

		hits, err = store.Search(ctx, domain.Query{Vector: []float32{0, 0, 1, 0}, K: 10, Filter: domain.Filter{Party: "ALP"}})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		for _, h := range hits {
			assert.Equal(t, "doc-alp", h.DocumentID)
		}

		from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
		hits, err = store.Search(ctx, domain.Query{Vector: []float32{1, 0, 0, 0}, K: 10, Filter: domain.Filter{DateFrom: &from, DateTo: &to}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc-grn", hits[0].DocumentID)

		hits, err = store.Search(ctx, domain.Query{Vector: []float32{1, 0, 0, 0}, K: 1})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("削除", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)
		require.NoError(t, store.Add(ctx, contractRequest("doc-1", domain.InsertOnly, "a", "b", "c")))

		removed, err := store.Delete(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		exists, err := store.Exists(ctx, "doc-1")
		require.NoError(t, err)
		assert.False(t, exists)
		_, err = store.GetDocument(ctx, "doc-1")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
		assert.Empty(t, mustListChunks(t, store, "doc-1"))

		removed, err = store.Delete(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("統計", func(t *stdtesting.T) {
		ctx := context.Background()
		store := prepared(t, newStore)
		require.NoError(t, store.Add(ctx, contractRequest("doc-1", domain.InsertOnly, "a", "b")))
		require.NoError(t, store.Add(ctx, contractRequest("doc-2", domain.InsertOnly, "c")))

		stats, err := store.Stats(ctx)

		require.NoError(t, err)
		assert.Equal(t, contractDimension, stats.Dimension)
		assert.Equal(t, contractModel, stats.EmbeddingModel)
		assert.Equal(t, 2, stats.Documents)
		assert.Equal(t, 3, stats.Chunks)
	})
}

func prepared(t *stdtesting.T, newStore StoreFactory) domain.Store {
	t.Helper()
	store := newStore(t)
	require.NoError(t, store.EnsureCollection(context.Background(), contractDimension, contractModel))
	return store
}

func mustListChunks(t *stdtesting.T, store domain.Store, documentID string) []domain.StoredChunk {
	t.Helper()
	chunks, err := store.ListChunks(context.Background(), documentID)
	require.NoError(t, err)
	return chunks
}

// contractRequest は texts を連結した本文のチャンク列で AddRequest を作成します。
// i 番目のチャンクのベクトルは i 番目の軸の単位ベクトル
func contractRequest(id string, mode domain.WriteMode, texts ...string) domain.AddRequest {
	chunks := make([]document.Chunk, len(texts))
	vectors := make([]document.EmbeddingVector, len(texts))
	offset := 0
	for i, text := range texts {
		chunks[i] = document.Chunk{Index: i, Start: offset, Text: text, Length: len([]rune(text))}
		offset += len([]rune(text))

		values := make([]float32, contractDimension)
		values[i%contractDimension] = 1
		vectors[i] = document.EmbeddingVector{Values: values, Model: contractModel}
	}

	return domain.AddRequest{
		DocumentID: id,
		Chunks:     chunks,
		Vectors:    vectors,
		Metadata: document.Metadata{
			ID:      id,
			Speaker: "Jane Citizen",
			Party:   "ALP",
			Chamber: document.ChamberHouse,
			Date:    time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
			Title:   "Climate Change Bill 2024",
		},
		ContentHash: "hash-" + id,
		Mode:        mode,
	}
}
