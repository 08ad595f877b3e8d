package document

import (
	"fmt"
	"strings"
)

// Reassemble はオフセット付きチャンク列から元の本文を復元します。
// chunks は Index 昇順で、隣接チャンクは重複または連続している必要があります。
func Reassemble(chunks []Chunk) (string, error) {
	var b strings.Builder
	end := 0
	for i, c := range chunks {
		if c.Index != i {
			return "", fmt.Errorf("chunk index gap: want %d, got %d", i, c.Index)
		}
		runes := []rune(c.Text)
		if len(runes) != c.Length {
			return "", fmt.Errorf("chunk %d: length %d does not match text (%d runes)", c.Index, c.Length, len(runes))
		}
		if c.Start > end {
			return "", fmt.Errorf("chunk %d starts at %d beyond previous end %d", c.Index, c.Start, end)
		}
		skip := end - c.Start
		if skip > len(runes) {
			// 前のチャンクに完全に含まれる
			continue
		}
		b.WriteString(string(runes[skip:]))
		end = c.End()
	}
	return b.String(), nil
}
