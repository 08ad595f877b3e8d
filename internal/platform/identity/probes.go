package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/go-ini/ini"
	"golang.org/x/oauth2/google"
)

// SQLLoginScope は Cloud SQL IAM 認証に必要な OAuth2 スコープ
const SQLLoginScope = "https://www.googleapis.com/auth/sqlservice.login"

// DefaultMetadataTimeout はメタデータサーバーの到達確認のタイムアウト。
// クラウド外では応答がないため短くする
const DefaultMetadataTimeout = 750 * time.Millisecond

// MetadataProbe はプラットフォームのメタデータサーバーからデフォルトサービスアカウントを取得します
type MetadataProbe struct {
	client  *metadata.Client
	timeout time.Duration
}

// NewMetadataProbe は新しい MetadataProbe を作成します。接続先は GCE_METADATA_HOST で上書きできます
func NewMetadataProbe(timeout time.Duration) *MetadataProbe {
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	hc := &http.Client{Timeout: timeout}
	return &MetadataProbe{
		client:  metadata.NewWithOptions(&metadata.Options{Client: hc}),
		timeout: timeout,
	}
}

func (p *MetadataProbe) Method() Method {
	return MethodPlatformMetadata
}

func (p *MetadataProbe) Principal(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	email, err := p.client.EmailWithContext(ctx, "default")
	if err != nil {
		return "", fmt.Errorf("metadata server unavailable: %w", err)
	}
	return strings.TrimSpace(email), nil
}

// CredentialsFinder はデフォルト認証情報の探索関数（テストで差し替える）
type CredentialsFinder func(ctx context.Context, scopes ...string) (*google.Credentials, error)

// CredentialsProbe はプロセスのデフォルト認証情報チェーンからプリンシパルを取得します
type CredentialsProbe struct {
	find CredentialsFinder
}

// NewCredentialsProbe は新しい CredentialsProbe を作成します。find が nil の場合は google.FindDefaultCredentials を使用します
func NewCredentialsProbe(find CredentialsFinder) *CredentialsProbe {
	if find == nil {
		find = google.FindDefaultCredentials
	}
	return &CredentialsProbe{find: find}
}

func (p *CredentialsProbe) Method() Method {
	return MethodDefaultCredentials
}

// credentialFile は認証情報JSONのうちプリンシパル抽出に必要な項目
type credentialFile struct {
	Type                           string `json:"type"`
	ClientEmail                    string `json:"client_email"`
	ServiceAccountImpersonationURL string `json:"service_account_impersonation_url"`
	Account                        string `json:"account"`
}

func (p *CredentialsProbe) Principal(ctx context.Context) (string, error) {
	creds, err := p.find(ctx, SQLLoginScope)
	if err != nil {
		return "", fmt.Errorf("default credentials not found: %w", err)
	}
	if len(creds.JSON) == 0 {
		// メタデータ由来の認証情報はメタデータ側で解決する
		return "", errors.New("default credentials carry no principal")
	}

	var f credentialFile
	if err := json.Unmarshal(creds.JSON, &f); err != nil {
		return "", fmt.Errorf("failed to decode credentials: %w", err)
	}

	switch {
	case f.ClientEmail != "":
		return f.ClientEmail, nil
	case f.ServiceAccountImpersonationURL != "":
		return impersonatedEmail(f.ServiceAccountImpersonationURL)
	case f.Account != "":
		return f.Account, nil
	}
	return "", fmt.Errorf("credentials of type %q carry no principal", f.Type)
}

// impersonatedEmail は .../serviceAccounts/{email}:generateAccessToken からメールアドレスを取り出します
func impersonatedEmail(u string) (string, error) {
	const marker = "/serviceAccounts/"
	i := strings.LastIndex(u, marker)
	if i < 0 {
		return "", fmt.Errorf("unexpected impersonation URL %q", u)
	}
	email := u[i+len(marker):]
	if j := strings.Index(email, ":"); j >= 0 {
		email = email[:j]
	}
	return email, nil
}

// CLIProbe はローカル開発用 CLI（gcloud）のアクティブな設定からアカウントを取得します
type CLIProbe struct {
	configDir string
}

// NewCLIProbe は新しい CLIProbe を作成します。configDir が空の場合は CLOUDSDK_CONFIG、~/.config/gcloud の順に探します
func NewCLIProbe(configDir string) *CLIProbe {
	return &CLIProbe{configDir: configDir}
}

func (p *CLIProbe) Method() Method {
	return MethodLocalCLI
}

func (p *CLIProbe) Principal(ctx context.Context) (string, error) {
	if account := os.Getenv("CLOUDSDK_CORE_ACCOUNT"); account != "" {
		return account, nil
	}

	dir, err := p.dir()
	if err != nil {
		return "", err
	}

	name := "default"
	if b, err := os.ReadFile(filepath.Join(dir, "active_config")); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			name = s
		}
	}

	path := filepath.Join(dir, "configurations", "config_"+name)
	cfg, err := ini.Load(path)
	if err != nil {
		return "", fmt.Errorf("failed to read CLI configuration %s: %w", path, err)
	}

	account := cfg.Section("core").Key("account").String()
	if account == "" {
		return "", fmt.Errorf("no account configured in CLI configuration %q", name)
	}
	return account, nil
}

func (p *CLIProbe) dir() (string, error) {
	if p.configDir != "" {
		return p.configDir, nil
	}
	if d := os.Getenv("CLOUDSDK_CONFIG"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate CLI configuration: %w", err)
	}
	return filepath.Join(home, ".config", "gcloud"), nil
}

// DefaultProbes はメタデータ → デフォルト認証情報 → CLI の順の Probe を返します
func DefaultProbes(metadataTimeout time.Duration, cliConfigDir string) []Probe {
	return []Probe{
		NewMetadataProbe(metadataTimeout),
		NewCredentialsProbe(nil),
		NewCLIProbe(cliConfigDir),
	}
}
