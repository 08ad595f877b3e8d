package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	ingestion "github.com/jinford/hansard-rag/internal/module/ingestion/application"
	ingestdomain "github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// Version は MCP サーバーのバージョン
const Version = "0.1.0"

// Searcher は検索・取得のポート
type Searcher interface {
	Search(ctx context.Context, params searchdomain.SearchParams) (*searchdomain.SearchResponse, error)
	Fetch(ctx context.Context, documentID string) (*searchdomain.FetchedDocument, error)
}

// Ingester は取り込みのポート
type Ingester interface {
	IngestOne(ctx context.Context, ref string, policy ingestdomain.DuplicatePolicy) (*ingestion.IngestResult, error)
	StartBulk(ctx context.Context, req ingestion.BulkRequest) (string, error)
	JobStatus(jobID string) (ingestdomain.JobSnapshot, error)
	CancelJob(jobID string) error
}

// IdentityFunc は現在の接続アイデンティティを返します
type IdentityFunc func(ctx context.Context) identity.ConnectionIdentity

// Ports はツールが利用するアプリケーション層の依存
type Ports struct {
	Search   Searcher
	Ingest   Ingester
	Identity IdentityFunc
	// DefaultPolicy はツール入力で重複ポリシーが省略された場合に使用する
	DefaultPolicy ingestdomain.DuplicatePolicy
}

// Validate は必須の依存が揃っているか検証します
func (p *Ports) Validate() error {
	if p == nil {
		return errors.New("ports is nil")
	}
	if p.Search == nil {
		return errors.New("search port is required")
	}
	if p.Ingest == nil {
		return errors.New("ingest port is required")
	}
	if p.Identity == nil {
		return errors.New("identity port is required")
	}
	return nil
}

// Server は発言記録の検索・取り込みを公開する MCP サーバー
type Server struct {
	ports  *Ports
	server *mcp.Server
	logger *slog.Logger
}

// NewServer は新しい Server を作成します
func NewServer(ports *Ports, logger *slog.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate ports: %w", err)
	}
	if ports.DefaultPolicy == "" {
		ports.DefaultPolicy = ingestdomain.DefaultDuplicatePolicy
	}
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "hansard-rag",
		Version: Version,
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(impl, nil),
		logger: logger,
	}
	s.registerTools()

	return s, nil
}

// Connect は任意のトランスポートでセッションを開始します
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Run は stdio 上でサーバーを起動し、ctx が終了するまでブロックします
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCPサーバーを起動します", "transport", "stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler は Streamable HTTP のハンドラを返します
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// RunHTTP は addr で HTTP サーバーを起動し、ctx が終了するまでブロックします
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTPサーバーの停止に失敗しました", "error", err)
		}
	}()

	s.logger.Info("MCPサーバーを起動します", "transport", "http", "addr", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
