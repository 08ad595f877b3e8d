package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/oauth2"

	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// ErrorKind は接続エラーの分類
type ErrorKind int

const (
	// Transient はバックオフ付きでリトライする
	Transient ErrorKind = iota
	// Permanent は即座に失敗させる
	Permanent
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// ConnectionError は分類済みのデータベース接続・実行エラー
type ConnectionError struct {
	Kind   ErrorKind
	Op     string
	Code   string
	Detail string
	Err    error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database %s failed (%s)", e.Op, e.Kind)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsTransient は err が一時的な接続エラーかどうかを返します
func IsTransient(err error) bool {
	var connErr *ConnectionError
	if errors.As(Classify("", err), &connErr) {
		return connErr.Kind == Transient
	}
	return false
}

// IsPermanent は err が恒久的な接続エラーかどうかを返します
func IsPermanent(err error) bool {
	var connErr *ConnectionError
	if errors.As(Classify("", err), &connErr) {
		return connErr.Kind == Permanent
	}
	return false
}

const (
	pgErrCodeUniqueViolation  = "23505"
	pgErrCodeInvalidPassword  = "28P01"
	pgErrCodeInvalidAuthSpec  = "28000"
	pgErrCodeInsufficientPriv = "42501"
	pgErrCodeUnknownDatabase  = "3D000"
)

// IsUniqueViolation は PostgreSQL の unique_violation(23505) かどうかを判定します
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrCodeUniqueViolation
	}
	return false
}

// isTokenRejected は IAM トークンが期限切れ等で拒否されたかどうかを返します
func isTokenRejected(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrCodeInvalidPassword
}

// Classify は err を一時的・恒久的に分類した ConnectionError を返します。
// err が nil の場合とキャンセルされた場合はそのまま返します
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	transient := func(detail string) error {
		return &ConnectionError{Kind: Transient, Op: op, Detail: detail, Err: err}
	}
	permanent := func(code, detail string) error {
		return &ConnectionError{Kind: Permanent, Op: op, Code: code, Detail: detail, Err: err}
	}

	if errors.Is(err, identity.ErrNoIdentity) {
		return permanent("", "no cloud identity available for token authentication")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(op, pgErr, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return transient("token endpoint unavailable")
		}
		return permanent("", "access token request rejected")
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return transient("timeout")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient("network error")
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return transient("connection lost")
	}

	var dialErr *pgconn.ConnectError
	if errors.As(err, &dialErr) {
		return transient("connect failed")
	}

	if pgconn.SafeToRetry(err) {
		return transient("request not sent")
	}

	return permanent("", "")
}

func classifyPgError(op string, pgErr *pgconn.PgError, err error) error {
	kind := Permanent
	detail := ""

	switch {
	case strings.HasPrefix(pgErr.Code, "08"):
		kind, detail = Transient, "connection exception"
	case pgErr.Code == pgErrCodeInvalidPassword:
		// IAM トークンの期限切れ。新しいトークンで再試行する
		kind, detail = Transient, "access token rejected, will retry with a fresh token"
	case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
		kind, detail = Transient, "server shutting down or starting up"
	case pgErr.Code == "53300":
		kind, detail = Transient, "too many connections"
	case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
		kind, detail = Transient, "concurrent transaction conflict"
	case pgErr.Code == pgErrCodeInsufficientPriv:
		detail = fmt.Sprintf("missing grant: %s (grant the privilege to the IAM database user)", pgErr.Message)
	case pgErr.Code == pgErrCodeInvalidAuthSpec:
		detail = fmt.Sprintf("unknown database user or role: %s (create the IAM database user)", pgErr.Message)
	case pgErr.Code == pgErrCodeUnknownDatabase:
		detail = fmt.Sprintf("unknown database: %s", pgErr.Message)
	case mentionsVector(pgErr):
		detail = fmt.Sprintf("required extension %q is not installed: %s", "vector", pgErr.Message)
	case pgErr.Code == pgErrCodeUniqueViolation:
		detail = "unique constraint violated"
	}

	return &ConnectionError{Kind: kind, Op: op, Code: pgErr.Code, Detail: detail, Err: err}
}

// mentionsVector は pgvector 拡張が無いことによるエラーかどうかを返します
func mentionsVector(pgErr *pgconn.PgError) bool {
	switch pgErr.Code {
	case "0A000", "58P01", "42704", "42883":
		return strings.Contains(strings.ToLower(pgErr.Message), "vector")
	}
	return false
}

// ExtensionMissingError は必要な拡張が無い場合の恒久エラーを作成します
func ExtensionMissingError(op, extension string) error {
	return &ConnectionError{
		Kind:   Permanent,
		Op:     op,
		Detail: fmt.Sprintf("required extension %q is not installed (run: CREATE EXTENSION %s)", extension, extension),
	}
}
