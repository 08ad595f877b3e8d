package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hansardmcp "github.com/jinford/hansard-rag/internal/interface/mcp"
	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/chunker"
	"github.com/jinford/hansard-rag/internal/module/ingestion/adapter/parser"
	ingestion "github.com/jinford/hansard-rag/internal/module/ingestion/application"
	ingestdomain "github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	ingesttest "github.com/jinford/hansard-rag/internal/module/ingestion/testing"
	llmadapter "github.com/jinford/hansard-rag/internal/module/llm/adapter"
	llmtest "github.com/jinford/hansard-rag/internal/module/llm/testing"
	search "github.com/jinford/hansard-rag/internal/module/search/application"
	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
	vstest "github.com/jinford/hansard-rag/internal/module/vectorstore/testing"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	server *hansardmcp.Server
	source *ingesttest.MapSource
	ingest *ingestion.IngestService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := newLogger()

	backend := &llmtest.MockBatchBackend{}
	embedder := llmadapter.NewBatchEmbedder(backend, llmadapter.WithLogger(logger))
	store := vstest.NewMemoryStore()
	require.NoError(t, store.EnsureCollection(ctx, backend.Dimension(), backend.ModelName()))

	chunk, err := chunker.New(200, 20)
	require.NoError(t, err)

	src := ingesttest.NewMapSource(map[string]string{
		"speeches/a.md":        ingesttest.TestSpeech("speech-a").Render(),
		"speeches/2024/b.md":   ingesttest.TestSpeech("speech-b").Render(),
		"speeches/2024/c.md":   ingesttest.TestSpeech("speech-c").Render(),
		"speeches/notes.txt":   "not a speech",
		"elsewhere/skipped.md": ingesttest.TestSpeech("speech-x").Render(),
	})

	ingestService := ingestion.NewIngestService(src, parser.NewFrontMatterParser(), chunk, embedder, store,
		ingestion.Config{Concurrency: 2}, logger)
	searchService := search.NewSearchService(embedder, store, logger)

	server, err := hansardmcp.NewServer(&hansardmcp.Ports{
		Search: searchService,
		Ingest: ingestService,
		Identity: func(ctx context.Context) identity.ConnectionIdentity {
			return identity.ConnectionIdentity{
				Principal: "ingest@project.iam.gserviceaccount.com",
				Method:    identity.MethodDefaultCredentials,
				Valid:     true,
			}
		},
	}, logger)
	require.NoError(t, err)

	return &fixture{server: server, source: src, ingest: ingestService}
}

func connect(t *testing.T, server *hansardmcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// call はツールを呼び出し、テキストコンテンツの JSON を out にデコードします
func call(t *testing.T, session *mcp.ClientSession, name string, args any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	if out != nil && !res.IsError {
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func TestNewServer_RequiresPorts(t *testing.T) {
	_, err := hansardmcp.NewServer(&hansardmcp.Ports{}, nil)
	assert.Error(t, err)
}

func TestServer_IngestSearchFetch(t *testing.T) {
	// Setup
	f := newFixture(t)
	session := connect(t, f.server)

	// Execute
	var ingested ingestion.IngestResult
	call(t, session, "ingest_one", map[string]any{"ref": "speeches/a.md"}, &ingested)

	var resp searchdomain.SearchResponse
	call(t, session, "search", map[string]any{"query": "I rise to speak on this bill", "category": "ALP"}, &resp)

	var fetched hansardmcp.FetchOutput
	call(t, session, "fetch", map[string]any{"id": "speech-a"}, &fetched)

	// Assert
	assert.Equal(t, ingestdomain.OutcomeStored, ingested.Status)
	assert.Equal(t, "speech-a", ingested.DocumentID)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "speech-a", resp.Results[0].DocumentID)
	assert.Equal(t, len(resp.Results), resp.TotalFound)

	require.True(t, fetched.Found)
	require.NotNil(t, fetched.Document)
	assert.Equal(t, ingesttest.TestSpeech("speech-a").Body, fetched.Document.FullText)
}

func TestServer_ToolErrors(t *testing.T) {
	f := newFixture(t)
	session := connect(t, f.server)

	t.Run("存在しないドキュメントは found=false", func(t *testing.T) {
		var out hansardmcp.FetchOutput
		res := call(t, session, "fetch", map[string]any{"id": "missing"}, &out)

		assert.False(t, res.IsError)
		assert.False(t, out.Found)
		assert.Nil(t, out.Document)
	})

	t.Run("不正なフィルタはツールエラー", func(t *testing.T) {
		res := call(t, session, "search", map[string]any{"query": "q", "category": "XYZ"}, nil)

		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "category")
	})

	t.Run("不正な重複ポリシーはツールエラー", func(t *testing.T) {
		res := call(t, session, "ingest_one", map[string]any{"ref": "speeches/a.md", "policy": "merge"}, nil)

		assert.True(t, res.IsError)
	})

	t.Run("reject で既存IDはツールエラー", func(t *testing.T) {
		call(t, session, "ingest_one", map[string]any{"ref": "speeches/a.md"}, nil)
		res := call(t, session, "ingest_one", map[string]any{"ref": "speeches/a.md", "policy": "reject"}, nil)

		assert.True(t, res.IsError)
	})
}

func TestServer_BulkJob(t *testing.T) {
	// Setup
	f := newFixture(t)
	session := connect(t, f.server)

	// Execute
	var started hansardmcp.IngestBulkOutput
	call(t, session, "ingest_bulk", map[string]any{"dir": "speeches", "pattern": "*.md"}, &started)
	require.NotEmpty(t, started.JobID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.ingest.Wait(ctx, started.JobID)
	require.NoError(t, err)

	var snap ingestdomain.JobSnapshot
	call(t, session, "ingest_status", map[string]any{"job_id": started.JobID}, &snap)

	// Assert
	assert.Equal(t, ingestdomain.JobStatusSucceeded, snap.Status)
	assert.Equal(t, 3, snap.Counters.Discovered)
	assert.Equal(t, 3, snap.Counters.Succeeded)
	assert.NotNil(t, snap.FinishedAt)
}

func TestServer_Identity(t *testing.T) {
	f := newFixture(t)
	session := connect(t, f.server)

	var id identity.ConnectionIdentity
	call(t, session, "identity", map[string]any{}, &id)

	assert.True(t, id.Valid)
	assert.Equal(t, identity.MethodDefaultCredentials, id.Method)
	assert.Equal(t, "ingest@project.iam.gserviceaccount.com", id.Principal)
}

func TestServer_HTTPHandler(t *testing.T) {
	// Setup
	f := newFixture(t)
	httpServer := httptest.NewServer(f.server.Handler())
	defer httpServer.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: httpServer.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	// Execute
	tools, err := session.ListTools(context.Background(), nil)

	// Assert
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "fetch", "ingest_one", "ingest_bulk", "ingest_status", "ingest_cancel", "identity"}, names)
}
