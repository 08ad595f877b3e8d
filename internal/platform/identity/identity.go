package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Method はプリンシパルを解決できた手段
type Method string

const (
	MethodPlatformMetadata   Method = "PLATFORM_METADATA"
	MethodDefaultCredentials Method = "DEFAULT_CREDENTIALS"
	MethodLocalCLI           Method = "LOCAL_CLI"
	MethodNone               Method = "NONE"
)

// ErrNoIdentity はどの手段でもプリンシパルを解決できなかった場合のエラー。
// パスワード認証へのフォールバックは行わない
var ErrNoIdentity = errors.New("no cloud identity could be resolved (tried platform metadata, default credentials, local CLI)")

// ConnectionIdentity は解決されたプリンシパルと解決手段
type ConnectionIdentity struct {
	Principal  string    `json:"principal"`
	Method     Method    `json:"method"`
	Valid      bool      `json:"valid"`
	Detail     string    `json:"detail,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Probe はプリンシパルの取得手段を1つ表します
type Probe interface {
	Method() Method
	Principal(ctx context.Context) (string, error)
}

// Resolver は Probe を優先順に試し、最初に得られた有効なプリンシパルを返します
type Resolver struct {
	probes []Probe
	logger *slog.Logger
}

// NewResolver は新しい Resolver を作成します。probes は優先度の高い順に渡します
func NewResolver(logger *slog.Logger, probes ...Probe) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{probes: probes, logger: logger}
}

// Resolve はプリンシパルを解決します。すべて失敗した場合は Valid=false, Method=NONE を返します
func (r *Resolver) Resolve(ctx context.Context) ConnectionIdentity {
	var reasons []string

	for _, p := range r.probes {
		principal, err := p.Principal(ctx)
		if err == nil && IsPlaceholder(principal) {
			err = fmt.Errorf("placeholder principal %q", principal)
		}
		if err != nil {
			r.logger.Debug("identity probe failed", "method", p.Method(), "error", err)
			reasons = append(reasons, fmt.Sprintf("%s: %v", p.Method(), err))
			continue
		}

		principal = strings.TrimSpace(principal)
		r.logger.Info("resolved connection identity", "method", p.Method(), "principal", principal)
		return ConnectionIdentity{
			Principal:  principal,
			Method:     p.Method(),
			Valid:      true,
			ResolvedAt: time.Now(),
		}
	}

	return ConnectionIdentity{
		Method:     MethodNone,
		Valid:      false,
		Detail:     strings.Join(reasons, "; "),
		ResolvedAt: time.Now(),
	}
}

// Err は無効なアイデンティティに対して ErrNoIdentity を返します
func (ci ConnectionIdentity) Err() error {
	if ci.Valid {
		return nil
	}
	if ci.Detail == "" {
		return ErrNoIdentity
	}
	return fmt.Errorf("%w: %s", ErrNoIdentity, ci.Detail)
}

var placeholders = map[string]struct{}{
	"":          {},
	"default":   {},
	"<nil>":     {},
	"none":      {},
	"null":      {},
	"unknown":   {},
	"unset":     {},
	"(unset)":   {},
	"localhost": {},
}

// IsPlaceholder はプリンシパルが実在のアカウントに見えない値かどうかを返します
func IsPlaceholder(principal string) bool {
	p := strings.ToLower(strings.TrimSpace(principal))
	if _, ok := placeholders[p]; ok {
		return true
	}
	at := strings.Index(p, "@")
	return at <= 0 || at == len(p)-1
}

const serviceAccountSuffix = ".gserviceaccount.com"

// DatabaseUser はプリンシパルを Cloud SQL の IAM データベースユーザー名に変換します。
// サービスアカウントは ".gserviceaccount.com" を取り除き、ユーザーアカウントはそのまま返します
func DatabaseUser(principal string) string {
	return strings.TrimSuffix(principal, serviceAccountSuffix)
}
