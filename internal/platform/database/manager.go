package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// TokenRefreshMargin は有効期限のこの時間前にトークンを更新する
const TokenRefreshMargin = 5 * time.Minute

// Config はデータベース接続設定。パスワードは持たず、常にアクセストークンで認証する
type Config struct {
	Host     string
	Port     int
	Database string
	// User が空の場合は解決したプリンシパルから IAM データベースユーザー名を導出する
	User           string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
	Retry          RetryPolicy
}

// IdentityResolver はプリンシパルを解決するポート
type IdentityResolver interface {
	Resolve(ctx context.Context) identity.ConnectionIdentity
}

// TokenSourceFactory は解決したアイデンティティからアクセストークンの取得元を作成します
type TokenSourceFactory func(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error)

// GoogleTokenSource はデフォルト認証情報チェーンから Cloud SQL ログイン用トークンを取得します
func GoogleTokenSource(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error) {
	return NewGoogleTokenSourceFactory(google.FindDefaultCredentials)(ctx, id)
}

// NewGoogleTokenSourceFactory は find で見つけた認証情報からトークンを取得する TokenSourceFactory を返します。
// トークンはデフォルト認証情報のものになるため、認証情報がプリンシパルを持ち、
// 解決したプリンシパルと異なる場合は恒久エラーとします（LOCAL_CLI では
// application-default login のアカウントが CLI のアカウントと一致する必要がある）
func NewGoogleTokenSourceFactory(find identity.CredentialsFinder) TokenSourceFactory {
	return func(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error) {
		creds, err := find(ctx, identity.SQLLoginScope)
		if err != nil {
			return nil, err
		}

		owner, err := identity.NewCredentialsProbe(func(context.Context, ...string) (*google.Credentials, error) {
			return creds, nil
		}).Principal(ctx)
		if err == nil && !strings.EqualFold(owner, id.Principal) {
			return nil, &ConnectionError{
				Kind:   Permanent,
				Op:     "create token source",
				Detail: fmt.Sprintf("default credentials belong to %s but the resolved identity is %s (%s)", owner, id.Principal, id.Method),
			}
		}
		return creds.TokenSource, nil
	}
}

// Manager はコネクションプールとその認証情報を所有します。
// グローバル状態は持たず、必要なコンポーネントへ参照で渡します
type Manager struct {
	cfg      Config
	resolver IdentityResolver
	tokens   TokenSourceFactory
	logger   *slog.Logger

	mu       sync.RWMutex
	pool     *pgxpool.Pool
	stdDB    *sql.DB
	identity identity.ConnectionIdentity
	cache    *tokenCache

	// credMu は接続試行ごとのアイデンティティ解決とトークン取得元の作り直しを直列化する
	credMu      sync.Mutex
	cacheHolder identity.ConnectionIdentity
}

// NewManager は新しい Manager を作成します。Open を呼ぶまで接続しません
func NewManager(cfg Config, resolver IdentityResolver, tokens TokenSourceFactory, logger *slog.Logger) *Manager {
	if tokens == nil {
		tokens = GoogleTokenSource
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	m := &Manager{cfg: cfg, resolver: resolver, tokens: tokens, logger: logger}
	if cfg.Retry.Notify == nil {
		m.cfg.Retry.Notify = func(attempt int, err error, wait time.Duration) {
			m.logger.Warn("retrying database operation", "attempt", attempt, "wait", wait, "error", err)
			if isTokenRejected(err) {
				m.invalidateToken()
			}
		}
	}
	return m
}

// Open はアイデンティティを解決し、トークン認証のコネクションプールを作成します。
// 既に接続済みの場合は何もしません
func (m *Manager) Open(ctx context.Context) error {
	m.mu.RLock()
	opened := m.pool != nil
	m.mu.RUnlock()
	if opened {
		return nil
	}

	id, _, err := m.credentials(ctx)
	if err != nil {
		return err
	}

	poolCfg, err := pgxpool.ParseConfig(m.connString())
	if err != nil {
		return &ConnectionError{Kind: Permanent, Op: "parse config", Err: err}
	}

	poolCfg.ConnConfig.User = m.databaseUser(id)
	if m.cfg.MaxConns > 0 {
		poolCfg.MaxConns = m.cfg.MaxConns
	}
	if m.cfg.MinConns > 0 {
		poolCfg.MinConns = m.cfg.MinConns
	}

	// 接続試行ごとにアイデンティティを解決し直し、ユーザー名とトークンを決める
	poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		id, cache, err := m.credentials(ctx)
		if err != nil {
			return err
		}
		tok, err := cache.Token()
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %w", err)
		}
		cc.User = m.databaseUser(id)
		cc.Password = tok.AccessToken
		return nil
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			// 拡張作成前（migrate 実行時）は登録できない
			if strings.Contains(err.Error(), "vector type not found") {
				m.logger.Debug("vector type not registered on connection", "error", err)
				return nil
			}
			return err
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return Classify("create pool", err)
	}

	attempts, err := Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		return Classify("ping", pool.Ping(ctx))
	})
	if err != nil {
		pool.Close()
		return err
	}

	m.mu.Lock()
	m.pool = pool
	m.stdDB = stdlib.OpenDBFromPool(pool)
	m.mu.Unlock()

	m.logger.Info("database connected",
		"host", m.cfg.Host,
		"database", m.cfg.Database,
		"user", poolCfg.ConnConfig.User,
		"method", id.Method,
		"attempts", attempts)
	return nil
}

// credentials はアイデンティティを解決して記録し、対応するトークンキャッシュを返します。
// プリンシパルか解決手段が変わった場合はトークンの取得元を作り直します
func (m *Manager) credentials(ctx context.Context) (identity.ConnectionIdentity, *tokenCache, error) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	id := m.resolver.Resolve(ctx)

	m.mu.Lock()
	m.identity = id
	cache := m.cache
	m.mu.Unlock()

	if !id.Valid {
		return id, nil, &ConnectionError{Kind: Permanent, Op: "resolve identity", Detail: "refusing to fall back to password authentication", Err: id.Err()}
	}

	if cache != nil && m.cacheHolder.Principal == id.Principal && m.cacheHolder.Method == id.Method {
		return id, cache, nil
	}

	if cache != nil {
		m.logger.Warn("connection identity changed",
			"previousPrincipal", m.cacheHolder.Principal,
			"previousMethod", m.cacheHolder.Method,
			"principal", id.Principal,
			"method", id.Method)
	}

	base, err := m.tokens(ctx, id)
	if err != nil {
		return id, nil, Classify("create token source", err)
	}
	cache = newTokenCache(base, TokenRefreshMargin)

	m.mu.Lock()
	m.cache = cache
	m.mu.Unlock()
	m.cacheHolder = id
	return id, cache, nil
}

// databaseUser は設定されたユーザー名、なければプリンシパルから導出した IAM ユーザー名を返します
func (m *Manager) databaseUser(id identity.ConnectionIdentity) string {
	if m.cfg.User != "" {
		return m.cfg.User
	}
	return identity.DatabaseUser(id.Principal)
}

func (m *Manager) connString() string {
	parts := []string{
		"host=" + quote(m.cfg.Host),
		fmt.Sprintf("port=%d", m.cfg.Port),
		"dbname=" + quote(m.cfg.Database),
	}
	if m.cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+quote(m.cfg.SSLMode))
	}
	if m.cfg.ConnectTimeout > 0 {
		secs := int(m.cfg.ConnectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

// ErrNotOpen は Open 前に接続を要求した場合のエラー
var ErrNotOpen = errors.New("database manager is not open")

// Pool はコネクションプールを返します
func (m *Manager) Pool() (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pool == nil {
		return nil, ErrNotOpen
	}
	return m.pool, nil
}

// StdDB は同じプール上の database/sql ハンドルを返します
func (m *Manager) StdDB() (*sql.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stdDB == nil {
		return nil, ErrNotOpen
	}
	return m.stdDB, nil
}

// Identity は最後に解決した ConnectionIdentity を返します
func (m *Manager) Identity() identity.ConnectionIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// RetryPolicy は接続のリトライポリシーを返します
func (m *Manager) RetryPolicy() RetryPolicy {
	return m.cfg.Retry
}

// Retry は Manager のポリシーで op を再試行します
func (m *Manager) Retry(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return Retry(ctx, m.cfg.Retry, op)
}

// WithConn はコネクションを取得して fn を実行し、必ず返却します
func (m *Manager) WithConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	pool, err := m.Pool()
	if err != nil {
		return err
	}

	var conn *pgxpool.Conn
	if _, err := m.Retry(ctx, func(ctx context.Context) error {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return Classify("acquire", err)
		}
		conn = c
		return nil
	}); err != nil {
		return err
	}
	defer conn.Release()

	return fn(conn)
}

// ResetPool はプール内の既存コネクションを破棄します（拡張作成後の型再登録用）
func (m *Manager) ResetPool() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pool != nil {
		m.pool.Reset()
	}
}

func (m *Manager) invalidateToken() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache != nil {
		m.cache.Invalidate()
	}
}

// Close はプールを閉じます
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stdDB != nil {
		_ = m.stdDB.Close()
		m.stdDB = nil
	}
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
}

// tokenCache は有効期限前に更新するトークンキャッシュ。拒否されたトークンは破棄できる
type tokenCache struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	margin time.Duration
	reuse  oauth2.TokenSource
}

func newTokenCache(base oauth2.TokenSource, margin time.Duration) *tokenCache {
	return &tokenCache{
		base:   base,
		margin: margin,
		reuse:  oauth2.ReuseTokenSourceWithExpiry(nil, base, margin),
	}
}

func (c *tokenCache) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.reuse
	c.mu.Unlock()
	return ts.Token()
}

func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, c.base, c.margin)
}
