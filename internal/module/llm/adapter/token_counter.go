package adapter

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/hansard-rag/internal/module/llm/domain"
)

// DefaultEncoding は text-embedding-3 系と互換のエンコーディング
const DefaultEncoding = "cl100k_base"

// TiktokenCounter は tiktoken でトークン数をカウントする
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter は新しいTiktokenCounterを作成する
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TiktokenCounter) CountTokens(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

var _ domain.TokenCounter = (*TiktokenCounter)(nil)
