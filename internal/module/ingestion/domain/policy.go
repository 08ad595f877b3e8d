package domain

import (
	"fmt"
	"strings"
)

// DuplicatePolicy は既に保存済みのドキュメントIDを再取り込みする際の規則
type DuplicatePolicy string

const (
	// DuplicatePolicySkip はエラーにせず何もしない（デフォルト）
	DuplicatePolicySkip DuplicatePolicy = "skip"
	// DuplicatePolicyOverwrite は既存チャンクを同一トランザクションで置き換える
	DuplicatePolicyOverwrite DuplicatePolicy = "overwrite"
	// DuplicatePolicyReject は DuplicateConflict として失敗させる
	DuplicatePolicyReject DuplicatePolicy = "reject"
)

// DefaultDuplicatePolicy は設定がない場合に使用する重複ポリシー
const DefaultDuplicatePolicy = DuplicatePolicySkip

// ParseDuplicatePolicy は文字列から DuplicatePolicy を生成します。空文字はデフォルト値
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultDuplicatePolicy, nil
	case DuplicatePolicySkip, DuplicatePolicyOverwrite, DuplicatePolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (want skip, overwrite or reject)", ErrInvalidPolicy, s)
	}
}

// OverwriteStrategy は overwrite 時に Embedding を再計算するかどうかの戦略
type OverwriteStrategy string

const (
	// OverwriteReembed は全チャンクを常に再 Embedding する
	OverwriteReembed OverwriteStrategy = "reembed"
	// OverwriteReuse は同一モデル・同一テキストのチャンクは保存済みベクトルを再利用する
	OverwriteReuse OverwriteStrategy = "reuse"
)

// ParseOverwriteStrategy は文字列から OverwriteStrategy を生成します
func ParseOverwriteStrategy(s string) (OverwriteStrategy, error) {
	switch st := OverwriteStrategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return OverwriteReembed, nil
	case OverwriteReembed, OverwriteReuse:
		return st, nil
	default:
		return "", fmt.Errorf("invalid overwrite strategy %q (want reembed or reuse)", s)
	}
}
