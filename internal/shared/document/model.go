package document

import (
	"strings"
	"time"
)

// Chamber は発言が行われた議院
type Chamber string

const (
	ChamberHouse  Chamber = "house"
	ChamberSenate Chamber = "senate"
)

var chamberAliases = map[string]Chamber{
	"house":                    ChamberHouse,
	"reps":                     ChamberHouse,
	"representatives":          ChamberHouse,
	"house of representatives": ChamberHouse,
	"senate":                   ChamberSenate,
}

// ParseChamber は表記ゆれを吸収して Chamber を返します
func ParseChamber(s string) (Chamber, bool) {
	c, ok := chamberAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Party は発言者の所属政党（カテゴリ）
type Party string

// Parties は受け付ける政党コードの一覧（閉じた列挙）
var Parties = []Party{"ALP", "LP", "LNP", "NATS", "GRN", "ON", "UAP", "KAP", "CA", "JLN", "IND", "PRES"}

// ParseParty は政党コードを検証します
func ParseParty(s string) (Party, bool) {
	code := Party(strings.ToUpper(strings.TrimSpace(s)))
	for _, p := range Parties {
		if p == code {
			return p, true
		}
	}
	return "", false
}

// States は選挙区の州・準州コード
var States = []string{"NSW", "VIC", "QLD", "WA", "SA", "TAS", "ACT", "NT"}

// ParseState は州コードを検証します
func ParseState(s string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(s))
	for _, st := range States {
		if st == code {
			return st, true
		}
	}
	return "", false
}

// MaxTitleLength はタイトルの最大文字数（rune 単位）
const MaxTitleLength = 200

// DateLayout は発言日の ISO-8601 表記
const DateLayout = "2006-01-02"

// Metadata は発言記録のフロントマターから抽出したメタデータ
type Metadata struct {
	ID         string
	Speaker    string
	Party      Party
	Chamber    Chamber
	Date       time.Time
	Title      string
	State      *string
	HansardRef *string
}

// SourceDocument はパース済みの発言記録（パース後は不変）
type SourceDocument struct {
	Ref         string
	Metadata    Metadata
	Body        string
	ContentHash string
}

// Chunk は本文の部分文字列。Start は本文先頭からの rune オフセット
type Chunk struct {
	Index  int
	Start  int
	Text   string
	Length int
}

// End はチャンク末尾の rune オフセット（排他的）
func (c Chunk) End() int {
	return c.Start + c.Length
}

// EmbeddingVector はチャンク1件分のベクトル
type EmbeddingVector struct {
	Values []float32
	Model  string
}

// Dimension はベクトルの次元数を返します
func (v EmbeddingVector) Dimension() int {
	return len(v.Values)
}
