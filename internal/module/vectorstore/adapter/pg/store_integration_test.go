//go:build integration

package pg_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/legacy"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	vstest "github.com/jinford/hansard-rag/internal/module/vectorstore/testing"
	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

const dbPassword = "secret"

type staticResolver struct{}

func (staticResolver) Resolve(ctx context.Context) identity.ConnectionIdentity {
	return identity.ConnectionIdentity{
		Principal:  "postgres",
		Method:     identity.MethodDefaultCredentials,
		Valid:      true,
		ResolvedAt: time.Now(),
	}
}

func staticTokens(ctx context.Context, _ identity.ConnectionIdentity) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: dbPassword,
		Expiry:      time.Now().Add(24 * time.Hour),
	}), nil
}

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動し、マイグレーション済みの Manager を返します
func startPostgres(t *testing.T) *database.Manager {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=" + dbPassword,
			"POSTGRES_DB=hansard",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	require.NoError(t, resource.Expire(300))

	hostPort := resource.GetHostPort("5432/tcp")
	host, portStr, _ := strings.Cut(hostPort, ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := database.NewManager(database.Config{
		Host:           host,
		Port:           port,
		Database:       "hansard",
		User:           "postgres",
		SSLMode:        "disable",
		MaxConns:       4,
		ConnectTimeout: 5 * time.Second,
	}, staticResolver{}, staticTokens, logger)

	pool.MaxWait = 2 * time.Minute
	require.NoError(t, pool.Retry(func() error {
		return mgr.Open(context.Background())
	}))
	t.Cleanup(mgr.Close)

	require.NoError(t, pg.NewNativeStore(mgr, pg.DefaultCollection, logger).Migrate(context.Background()))
	return mgr
}

func uniqueCollection() string {
	return "contract_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func TestStores_Contract(t *testing.T) {
	mgr := startPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	t.Run("native", func(t *testing.T) {
		vstest.RunStoreContract(t, func(t *testing.T) domain.Store {
			return pg.NewNativeStore(mgr, uniqueCollection(), logger)
		})
	})

	t.Run("legacy", func(t *testing.T) {
		vstest.RunStoreContract(t, func(t *testing.T) domain.Store {
			store, err := legacy.NewStore(mgr, uniqueCollection(), legacy.WithPoolSize(4), legacy.WithLogger(logger))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		})
	})
}
