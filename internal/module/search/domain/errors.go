package domain

import (
	"errors"
	"fmt"

	vsdomain "github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
)

var (
	// ErrEmptyQuery は検索クエリが空の場合のエラー
	ErrEmptyQuery = errors.New("query is required")

	// ErrDocumentNotFound は指定したドキュメントのチャンクが存在しない場合のエラー
	ErrDocumentNotFound = vsdomain.ErrDocumentNotFound
)

// FilterError は検索フィルタの値が不正な場合のエラー
type FilterError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter %s=%q: %s", e.Field, e.Value, e.Reason)
}
