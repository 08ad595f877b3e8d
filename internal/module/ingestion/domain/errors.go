package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound は指定したジョブが存在しない場合のエラー
	ErrJobNotFound = errors.New("ingestion job not found")

	// ErrNoDocuments はバルク取り込みで対象ファイルが見つからない場合のエラー
	ErrNoDocuments = errors.New("no documents matched")

	// ErrInvalidPolicy は重複ポリシーの指定が不正な場合のエラー
	ErrInvalidPolicy = errors.New("invalid duplicate policy")
)

// ValidationError はメタデータの必須項目欠落や値の不正を表します（リトライしない）
type ValidationError struct {
	Ref    string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("validation failed for %s: field %q %s", e.Ref, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: field %q %s", e.Field, e.Reason)
}

// ParseError は元文書の構造そのものが壊れている場合のエラー（リトライしない）
type ParseError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse failed for %s: %s", e.Ref, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DuplicateConflict は reject ポリシーで既存IDに再取り込みした場合のエラー
type DuplicateConflict struct {
	DocumentID string
}

func (e *DuplicateConflict) Error() string {
	return fmt.Sprintf("document %q already exists (policy=reject)", e.DocumentID)
}

// DocumentError は1ドキュメントの処理失敗を、失敗したステージとともに表します
type DocumentError struct {
	Ref        string
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *DocumentError) Error() string {
	id := e.DocumentID
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf("ingest %s (id=%s) failed at %s: %v", e.Ref, id, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
