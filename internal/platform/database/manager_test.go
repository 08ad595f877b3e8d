package database_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// sequenceResolver は呼び出しごとに ids を順に返し、最後の値を繰り返します
type sequenceResolver struct {
	mu    sync.Mutex
	ids   []identity.ConnectionIdentity
	calls int
}

func (r *sequenceResolver) Resolve(ctx context.Context) identity.ConnectionIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.ids) {
		i = len(r.ids) - 1
	}
	r.calls++
	return r.ids[i]
}

func (r *sequenceResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func serviceAccount(email string) identity.ConnectionIdentity {
	return identity.ConnectionIdentity{
		Principal:  email,
		Method:     identity.MethodDefaultCredentials,
		Valid:      true,
		ResolvedAt: time.Now(),
	}
}

// unreachableConfig は接続が必ず拒否される設定を返します
func unreachableConfig() database.Config {
	return database.Config{
		Host:           "127.0.0.1",
		Port:           1,
		Database:       "hansard",
		SSLMode:        "disable",
		ConnectTimeout: time.Second,
		Retry:          database.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
}

func TestManager_ResolvesIdentityOnEachConnectionAttempt(t *testing.T) {
	// Setup
	resolver := &sequenceResolver{ids: []identity.ConnectionIdentity{
		serviceAccount("first@project.iam.gserviceaccount.com"),
		serviceAccount("second@project.iam.gserviceaccount.com"),
	}}

	var (
		mu         sync.Mutex
		tokenOwner []string
	)
	tokens := func(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error) {
		mu.Lock()
		tokenOwner = append(tokenOwner, id.Principal)
		mu.Unlock()
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token-" + id.Principal, Expiry: time.Now().Add(time.Hour)}), nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := database.NewManager(unreachableConfig(), resolver, tokens, logger)
	defer mgr.Close()

	// Execute
	err := mgr.Open(context.Background())

	// Assert
	require.Error(t, err)
	assert.GreaterOrEqual(t, resolver.Calls(), 2)
	assert.Equal(t, "second@project.iam.gserviceaccount.com", mgr.Identity().Principal)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"first@project.iam.gserviceaccount.com",
		"second@project.iam.gserviceaccount.com",
	}, tokenOwner)
}

func TestManager_RefusesConnectionWhenIdentityIsLost(t *testing.T) {
	// Setup
	resolver := &sequenceResolver{ids: []identity.ConnectionIdentity{
		serviceAccount("ingest@project.iam.gserviceaccount.com"),
		{Method: identity.MethodNone, Detail: "credentials revoked"},
	}}
	tokens := func(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}), nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr := database.NewManager(unreachableConfig(), resolver, tokens, logger)
	defer mgr.Close()

	// Execute
	err := mgr.Open(context.Background())

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrNoIdentity)
	assert.True(t, database.IsPermanent(err))
	assert.False(t, mgr.Identity().Valid)
}

func TestNewGoogleTokenSourceFactory(t *testing.T) {
	credentials := func(json string) identity.CredentialsFinder {
		return func(ctx context.Context, scopes ...string) (*google.Credentials, error) {
			return &google.Credentials{
				JSON:        []byte(json),
				TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "adc-token"}),
			}, nil
		}
	}
	id := serviceAccount("ingest@project.iam.gserviceaccount.com")

	t.Run("認証情報のプリンシパルが一致する", func(t *testing.T) {
		factory := database.NewGoogleTokenSourceFactory(credentials(`{"type":"service_account","client_email":"ingest@project.iam.gserviceaccount.com"}`))

		ts, err := factory(context.Background(), id)

		require.NoError(t, err)
		tok, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, "adc-token", tok.AccessToken)
	})

	t.Run("認証情報が別のプリンシパルのもの", func(t *testing.T) {
		factory := database.NewGoogleTokenSourceFactory(credentials(`{"type":"service_account","client_email":"other@project.iam.gserviceaccount.com"}`))

		_, err := factory(context.Background(), id)

		require.Error(t, err)
		assert.True(t, database.IsPermanent(err))
		assert.Contains(t, err.Error(), "other@project.iam.gserviceaccount.com")
	})

	t.Run("プリンシパルを持たない認証情報は受け入れる", func(t *testing.T) {
		factory := database.NewGoogleTokenSourceFactory(credentials(`{"type":"authorized_user"}`))

		ts, err := factory(context.Background(), id)

		require.NoError(t, err)
		assert.NotNil(t, ts)
	})
}
