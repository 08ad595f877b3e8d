package container_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingestdomain "github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	ingesttest "github.com/jinford/hansard-rag/internal/module/ingestion/testing"
	llmtest "github.com/jinford/hansard-rag/internal/module/llm/testing"
	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
	vstest "github.com/jinford/hansard-rag/internal/module/vectorstore/testing"
	"github.com/jinford/hansard-rag/internal/platform/container"
	"github.com/jinford/hansard-rag/pkg/config"
)

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Ingest.DuplicatePolicy = "skip"
	cfg.Ingest.OverwriteStrategy = "reembed"
	cfg.Chunk.Size = 200
	cfg.Chunk.Overlap = 20
	cfg.Embedding.RequestsPerSecond = 0
	cfg.Embedding.TokenBudget = 0
	return cfg
}

func TestContainer_WiresServices(t *testing.T) {
	// Setup
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := vstest.NewMemoryStore()
	src := ingesttest.NewMapSource(map[string]string{
		"speeches/a.md": ingesttest.TestSpeech("speech-a").Render(),
	})

	c, err := container.New(newConfig(t),
		container.WithLogger(logger),
		container.WithStore(store),
		container.WithEmbeddingBackend(&llmtest.MockBatchBackend{}),
		container.WithDocumentSource(src),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	// Execute
	require.NoError(t, c.Prepare(ctx))
	result, err := c.IngestService.IngestOne(ctx, "speeches/a.md", c.DuplicatePolicy)
	require.NoError(t, err)
	resp, err := c.SearchService.Search(ctx, searchdomain.SearchParams{Query: "I rise"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.OutcomeStored, result.Status)
	assert.Equal(t, ingestdomain.DuplicatePolicySkip, c.DuplicatePolicy)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "speech-a", resp.Results[0].DocumentID)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Dimension)
}

func TestContainer_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "不明な重複ポリシー", mutate: func(c *config.Config) { c.Ingest.DuplicatePolicy = "merge" }},
		{name: "不明なストアドライバ", mutate: func(c *config.Config) { c.Database.StoreDriver = "sqlite" }},
		{name: "不明なプロバイダ", mutate: func(c *config.Config) { c.Embedding.Provider = "cohere" }},
		{name: "不正なチャンク設定", mutate: func(c *config.Config) { c.Chunk.Overlap = c.Chunk.Size }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t)
			tt.mutate(cfg)

			var opts []container.Option
			if cfg.Embedding.Provider != "cohere" {
				opts = append(opts, container.WithEmbeddingBackend(&llmtest.MockBatchBackend{}))
			}
			_, err := container.New(cfg, opts...)

			assert.Error(t, err)
		})
	}
}
