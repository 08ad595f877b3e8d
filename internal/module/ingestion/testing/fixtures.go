package testing

import (
	"fmt"
	"strings"
)

// Speech はテスト用の発言記録フィクスチャ
type Speech struct {
	ID      string
	Speaker string
	Party   string
	Chamber string
	Date    string
	Title   string
	State   string
	Body    string
}

// TestSpeech はデフォルト値で埋めた発言記録を作成します
func TestSpeech(id string) Speech {
	return Speech{
		ID:      id,
		Speaker: "Jane Citizen",
		Party:   "ALP",
		Chamber: "house",
		Date:    "2024-03-14",
		Title:   "Climate Change Bill 2024 - Second Reading",
		Body:    fmt.Sprintf("Speech %s.\n\nI rise to speak on this bill.\nIt matters to my electorate.\n", id),
	}
}

// Render はフロントマター付きのテキストを返します
func (s Speech) Render() string {
	var b strings.Builder
	b.WriteString("---\n")
	writeField(&b, "id", s.ID)
	writeField(&b, "speaker", s.Speaker)
	writeField(&b, "party", s.Party)
	writeField(&b, "chamber", s.Chamber)
	writeField(&b, "date", s.Date)
	writeField(&b, "title", s.Title)
	writeField(&b, "state", s.State)
	b.WriteString("---\n")
	b.WriteString(s.Body)
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %q\n", key, value)
}
