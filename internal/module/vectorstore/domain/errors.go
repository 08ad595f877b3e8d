package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentExists は InsertOnly で既存のドキュメントIDに書き込もうとした場合のエラー
	ErrDocumentExists = errors.New("document already exists")

	// ErrDocumentNotFound はドキュメントのチャンクが1件も存在しない場合のエラー
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDimensionMismatch はコレクションの次元数とベクトルの次元数が異なる場合のエラー
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCollectionNotInitialized は EnsureCollection 前に書き込み・検索した場合のエラー
	ErrCollectionNotInitialized = errors.New("collection not initialized")

	// ErrInvalidRecord はチャンクとベクトルの件数が一致しない等、書き込み内容が不正な場合のエラー
	ErrInvalidRecord = errors.New("invalid record")
)

// StorageTransactionError はドキュメント単位のトランザクションが失敗し、
// ロールバックされたことを表します
type StorageTransactionError struct {
	DocumentID string
	Op         string
	Err        error
}

func (e *StorageTransactionError) Error() string {
	return fmt.Sprintf("storage transaction %s for document %q rolled back: %v", e.Op, e.DocumentID, e.Err)
}

func (e *StorageTransactionError) Unwrap() error {
	return e.Err
}

func errInvalidCounts(chunks, vectors int) error {
	return fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidRecord, chunks, vectors)
}

func errDimension(index, want, got int) error {
	return fmt.Errorf("%w: chunk %d has %d dimensions, collection expects %d", ErrDimensionMismatch, index, got, want)
}
