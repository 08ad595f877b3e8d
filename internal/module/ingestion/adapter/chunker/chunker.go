package chunker

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

const (
	// DefaultSize はチャンクの最大文字数のデフォルト値
	DefaultSize = 1000
	// DefaultOverlap は隣接チャンク間で共有する文字数のデフォルト値
	DefaultOverlap = 100
)

// ErrInvalidParams はサイズ・オーバーラップの指定が不正な場合のエラー
var ErrInvalidParams = errors.New("invalid chunk parameters")

// separators は区切り候補。優先度の高い順に並べる
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
}

// Chunker は本文を文字数ベースでオーバーラップ付きに分割します。
// 文字数は rune 単位で数える
type Chunker struct {
	size    int
	overlap int
}

var _ domain.Chunker = (*Chunker)(nil)

// New は新しい Chunker を作成します
func New(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size はチャンクの最大文字数を返します
func (c *Chunker) Size() int {
	return c.size
}

// Overlap はオーバーラップ文字数を返します
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split は text をチャンク列に分割します
func (c *Chunker) Split(text string) ([]document.Chunk, error) {
	return Split(text, c.size, c.overlap)
}

// Split は text を size 文字以下のチャンクに分割します。
// 各チャンクは本文の部分文字列そのもので、連続するチャンクは overlap 文字を共有します。
// 同じ入力に対して常に同じ結果を返します
func Split(text string, size, overlap int) ([]document.Chunk, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	var chunks []document.Chunk
	start := 0
	for {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start, end)
		}

		chunks = append(chunks, document.Chunk{
			Index:  len(chunks),
			Start:  start,
			Text:   string(runes[start:end]),
			Length: end - start,
		})

		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// breakPoint は [start, limit) の後半で最も優先度の高い区切りの直後の位置を返します。
// 区切りが見つからなければ limit（ハードカット）を返します
func breakPoint(runes []rune, start, limit int) int {
	floor := start + (limit-start)/2

	for _, sep := range separators {
		if pos := lastIndex(runes, sep, floor, limit); pos >= 0 {
			return pos + len(sep)
		}
	}

	// 空白
	for i := limit - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return limit
}

// lastIndex は区切り全体が [floor, limit) に収まる最後の出現位置を返します
func lastIndex(runes, sep []rune, floor, limit int) int {
	for i := limit - len(sep); i >= floor; i-- {
		if matchAt(runes, sep, i) {
			return i
		}
	}
	return -1
}

func matchAt(runes, sep []rune, i int) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func validate(size, overlap int) error {
	switch {
	case size <= 0:
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidParams, size)
	case overlap < 0:
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidParams, overlap)
	case overlap >= size:
		return fmt.Errorf("%w: overlap (%d) must be smaller than size (%d)", ErrInvalidParams, overlap, size)
	}
	return nil
}
