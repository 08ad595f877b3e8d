package identity_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/google"

	"github.com/jinford/hansard-rag/internal/platform/identity"
)

type fakeProbe struct {
	method    identity.Method
	principal string
	err       error
	calls     int
}

func (p *fakeProbe) Method() identity.Method { return p.method }

func (p *fakeProbe) Principal(ctx context.Context) (string, error) {
	p.calls++
	return p.principal, p.err
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestResolver_FirstValidProbeWins(t *testing.T) {
	// Setup
	meta := &fakeProbe{method: identity.MethodPlatformMetadata, err: errors.New("unreachable")}
	creds := &fakeProbe{method: identity.MethodDefaultCredentials, principal: "ingest@project.iam.gserviceaccount.com"}
	cli := &fakeProbe{method: identity.MethodLocalCLI, principal: "dev@example.com"}
	resolver := identity.NewResolver(newLogger(), meta, creds, cli)

	// Execute
	id := resolver.Resolve(context.Background())

	// Assert
	assert.True(t, id.Valid)
	assert.Equal(t, identity.MethodDefaultCredentials, id.Method)
	assert.Equal(t, "ingest@project.iam.gserviceaccount.com", id.Principal)
	assert.NoError(t, id.Err())
	assert.Equal(t, 1, meta.calls)
	assert.Equal(t, 0, cli.calls)
}

func TestResolver_RejectsPlaceholders(t *testing.T) {
	creds := &fakeProbe{method: identity.MethodDefaultCredentials, principal: "default"}
	cli := &fakeProbe{method: identity.MethodLocalCLI, principal: "dev@example.com"}
	resolver := identity.NewResolver(newLogger(), creds, cli)

	id := resolver.Resolve(context.Background())

	assert.Equal(t, identity.MethodLocalCLI, id.Method)
	assert.Equal(t, "dev@example.com", id.Principal)
}

func TestResolver_NoneSucceeds(t *testing.T) {
	resolver := identity.NewResolver(newLogger(),
		&fakeProbe{method: identity.MethodPlatformMetadata, err: errors.New("timeout")},
		&fakeProbe{method: identity.MethodDefaultCredentials, principal: "<nil>"},
		&fakeProbe{method: identity.MethodLocalCLI, err: errors.New("no config")},
	)

	id := resolver.Resolve(context.Background())

	assert.False(t, id.Valid)
	assert.Equal(t, identity.MethodNone, id.Method)
	assert.Empty(t, id.Principal)
	assert.ErrorIs(t, id.Err(), identity.ErrNoIdentity)
	assert.Contains(t, id.Detail, "LOCAL_CLI")
}

func TestIsPlaceholder(t *testing.T) {
	tests := []struct {
		principal string
		want      bool
	}{
		{"", true},
		{"default", true},
		{"<nil>", true},
		{"None", true},
		{"no-at-sign", true},
		{"@example.com", true},
		{"user@", true},
		{"user@example.com", false},
		{"sa@proj.iam.gserviceaccount.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.principal, func(t *testing.T) {
			assert.Equal(t, tt.want, identity.IsPlaceholder(tt.principal))
		})
	}
}

func TestDatabaseUser(t *testing.T) {
	assert.Equal(t, "ingest@project.iam", identity.DatabaseUser("ingest@project.iam.gserviceaccount.com"))
	assert.Equal(t, "dev@example.com", identity.DatabaseUser("dev@example.com"))
}

func TestMetadataProbe(t *testing.T) {
	// Setup
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Google", r.Header.Get("Metadata-Flavor"))
		if r.URL.Path != "/computeMetadata/v1/instance/service-accounts/default/email" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Metadata-Flavor", "Google")
		_, _ = w.Write([]byte("runtime@project.iam.gserviceaccount.com\n"))
	}))
	defer server.Close()
	t.Setenv("GCE_METADATA_HOST", strings.TrimPrefix(server.URL, "http://"))

	probe := identity.NewMetadataProbe(time.Second)

	// Execute
	principal, err := probe.Principal(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "runtime@project.iam.gserviceaccount.com", principal)
}

func TestCredentialsProbe(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    string
		wantErr bool
	}{
		{
			name: "サービスアカウント鍵",
			json: `{"type":"service_account","client_email":"sa@proj.iam.gserviceaccount.com"}`,
			want: "sa@proj.iam.gserviceaccount.com",
		},
		{
			name: "なりすまし",
			json: `{"type":"impersonated_service_account","service_account_impersonation_url":"https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/target@proj.iam.gserviceaccount.com:generateAccessToken"}`,
			want: "target@proj.iam.gserviceaccount.com",
		},
		{
			name:    "ユーザー認証情報にはプリンシパルがない",
			json:    `{"type":"authorized_user","client_id":"x"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := identity.NewCredentialsProbe(func(ctx context.Context, scopes ...string) (*google.Credentials, error) {
				assert.Equal(t, []string{identity.SQLLoginScope}, scopes)
				return &google.Credentials{JSON: []byte(tt.json)}, nil
			})

			principal, err := probe.Principal(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, principal)
		})
	}
}

func TestCLIProbe(t *testing.T) {
	// Setup
	t.Setenv("CLOUDSDK_CORE_ACCOUNT", "")
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configurations"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "active_config"), []byte("work\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configurations", "config_work"),
		[]byte("[core]\naccount = dev@example.com\nproject = hansard\n"), 0o644))

	probe := identity.NewCLIProbe(dir)

	// Execute
	principal, err := probe.Principal(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", principal)
}

func TestCLIProbe_MissingConfig(t *testing.T) {
	t.Setenv("CLOUDSDK_CORE_ACCOUNT", "")
	probe := identity.NewCLIProbe(t.TempDir())

	_, err := probe.Principal(context.Background())

	assert.Error(t, err)
}
