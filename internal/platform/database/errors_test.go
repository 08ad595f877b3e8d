package database_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jinford/hansard-rag/internal/platform/database"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   database.ErrorKind
		wantDetail string
	}{
		{name: "接続例外クラス08は一時的", err: &pgconn.PgError{Code: "08006"}, wantKind: database.Transient},
		{name: "トークン期限切れは一時的", err: &pgconn.PgError{Code: "28P01"}, wantKind: database.Transient, wantDetail: "fresh token"},
		{name: "接続数超過は一時的", err: &pgconn.PgError{Code: "53300"}, wantKind: database.Transient},
		{name: "シリアライズ失敗は一時的", err: &pgconn.PgError{Code: "40001"}, wantKind: database.Transient},
		{name: "権限不足は恒久的", err: &pgconn.PgError{Code: "42501", Message: "permission denied for table speech_chunks"}, wantKind: database.Permanent, wantDetail: "missing grant"},
		{name: "不明なユーザーは恒久的", err: &pgconn.PgError{Code: "28000", Message: "role does not exist"}, wantKind: database.Permanent, wantDetail: "unknown database user"},
		{name: "不明なデータベースは恒久的", err: &pgconn.PgError{Code: "3D000"}, wantKind: database.Permanent, wantDetail: "unknown database"},
		{name: "vector 拡張なしは恒久的", err: &pgconn.PgError{Code: "42704", Message: `type "vector" does not exist`}, wantKind: database.Permanent, wantDetail: `"vector"`},
		{name: "タイムアウトは一時的", err: fmt.Errorf("ping: %w", context.DeadlineExceeded), wantKind: database.Transient},
		{name: "アイデンティティなしは恒久的", err: identity.ErrNoIdentity, wantKind: database.Permanent},
		{name: "トークンエンドポイント5xxは一時的", err: &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}}, wantKind: database.Transient},
		{name: "トークン要求拒否は恒久的", err: &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusForbidden}}, wantKind: database.Permanent},
		{name: "不明なエラーは恒久的", err: errors.New("boom"), wantKind: database.Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Execute
			err := database.Classify("ping", tt.err)

			// Assert
			var connErr *database.ConnectionError
			require.ErrorAs(t, err, &connErr)
			assert.Equal(t, tt.wantKind, connErr.Kind)
			assert.Contains(t, connErr.Detail, tt.wantDetail)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("nil とキャンセルはそのまま返す", func(t *testing.T) {
		assert.NoError(t, database.Classify("ping", nil))
		assert.Equal(t, context.Canceled, database.Classify("ping", context.Canceled))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, database.IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, database.IsUniqueViolation(errors.New("boom")))
}

func TestRetry(t *testing.T) {
	policy := database.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	t.Run("一時的エラーは成功するまで再試行する", func(t *testing.T) {
		// Setup
		calls := 0
		notified := 0
		p := policy
		p.Notify = func(attempt int, err error, wait time.Duration) { notified++ }

		// Execute
		attempts, err := database.Retry(context.Background(), p, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: "08006"}
			}
			return nil
		})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 2, notified)
	})

	t.Run("恒久的エラーは1回で返す", func(t *testing.T) {
		// Execute
		attempts, err := database.Retry(context.Background(), policy, func(ctx context.Context) error {
			return &pgconn.PgError{Code: "42501"}
		})

		// Assert
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.True(t, database.IsPermanent(err))
	})

	t.Run("上限に達したら諦める", func(t *testing.T) {
		// Execute
		attempts, err := database.Retry(context.Background(), policy, func(ctx context.Context) error {
			return &pgconn.PgError{Code: "57P03"}
		})

		// Assert
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
		assert.True(t, database.IsTransient(err))
	})

	t.Run("キャンセルで待機を中断する", func(t *testing.T) {
		// Setup
		ctx, cancel := context.WithCancel(context.Background())
		p := database.RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

		// Execute
		attempts, err := database.Retry(ctx, p, func(ctx context.Context) error {
			cancel()
			return &pgconn.PgError{Code: "08006"}
		})

		// Assert
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := database.RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
}

type invalidResolver struct{}

func (invalidResolver) Resolve(ctx context.Context) identity.ConnectionIdentity {
	return identity.ConnectionIdentity{Method: identity.MethodNone, Detail: "all probes failed"}
}

func TestManager_Open_InvalidIdentity(t *testing.T) {
	// Setup
	tokensCalled := false
	mgr := database.NewManager(database.Config{Host: "127.0.0.1", Port: 1, Database: "hansard"}, invalidResolver{},
		func(ctx context.Context, id identity.ConnectionIdentity) (oauth2.TokenSource, error) {
			tokensCalled = true
			return nil, errors.New("unexpected")
		}, nil)

	// Execute
	err := mgr.Open(context.Background())

	// Assert
	require.Error(t, err)
	assert.True(t, database.IsPermanent(err))
	assert.ErrorIs(t, err, identity.ErrNoIdentity)
	assert.False(t, tokensCalled)
	assert.False(t, mgr.Identity().Valid)

	_, err = mgr.Pool()
	assert.Error(t, err)
}
