package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

const fence = "---"

// frontMatter はフロントマターの YAML 表現
type frontMatter struct {
	ID         string `yaml:"id"`
	Speaker    string `yaml:"speaker"`
	Party      string `yaml:"party"`
	Chamber    string `yaml:"chamber"`
	Date       string `yaml:"date"`
	Title      string `yaml:"title"`
	State      string `yaml:"state"`
	HansardRef string `yaml:"hansard_ref"`
}

// FrontMatterParser は YAML フロントマター付きの発言記録をパースします
type FrontMatterParser struct{}

// NewFrontMatterParser は新しい FrontMatterParser を作成します
func NewFrontMatterParser() *FrontMatterParser {
	return &FrontMatterParser{}
}

var _ domain.Parser = (*FrontMatterParser)(nil)

// Parse はメタデータと本文を抽出し、スキーマを検証します。
// 検証に失敗した場合、部分的な SourceDocument は返しません
func (p *FrontMatterParser) Parse(ref string, raw []byte) (*document.SourceDocument, error) {
	if !utf8.Valid(raw) {
		return nil, &domain.ParseError{Ref: ref, Reason: "content is not valid UTF-8"}
	}

	text := string(bytes.TrimPrefix(raw, []byte("\uFEFF")))
	text = strings.ReplaceAll(text, "\r\n", "\n")

	header, body, err := split(text)
	if err != nil {
		return nil, &domain.ParseError{Ref: ref, Reason: err.Error()}
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, &domain.ParseError{Ref: ref, Reason: "invalid front matter", Err: err}
	}

	if strings.TrimSpace(body) == "" {
		return nil, &domain.ParseError{Ref: ref, Reason: "empty body"}
	}

	meta, err := validate(ref, fm)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(body))

	return &document.SourceDocument{
		Ref:         ref,
		Metadata:    meta,
		Body:        body,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// split はフロントマター部分と本文を分離します
func split(text string) (string, string, error) {
	if !strings.HasPrefix(text, fence+"\n") {
		return "", "", errMissingFrontMatter
	}
	rest := text[len(fence)+1:]

	// 閉じフェンスは行頭の "---" のみ
	var header string
	switch {
	case strings.HasPrefix(rest, fence+"\n"):
		return "", "", errEmptyFrontMatter
	default:
		idx := strings.Index(rest, "\n"+fence+"\n")
		if idx < 0 {
			if strings.HasSuffix(rest, "\n"+fence) {
				return "", "", errEmptyBody
			}
			return "", "", errUnterminatedFrontMatter
		}
		header = rest[:idx]
		rest = rest[idx+len(fence)+2:]
	}

	if strings.TrimSpace(header) == "" {
		return "", "", errEmptyFrontMatter
	}
	return header, rest, nil
}

// validate は必須項目・列挙値・日付形式・タイトル長を検証します
func validate(ref string, fm frontMatter) (document.Metadata, error) {
	invalid := func(field, reason string) (document.Metadata, error) {
		return document.Metadata{}, &domain.ValidationError{Ref: ref, Field: field, Reason: reason}
	}

	required := []struct {
		field string
		value string
	}{
		{"id", fm.ID},
		{"speaker", fm.Speaker},
		{"party", fm.Party},
		{"chamber", fm.Chamber},
		{"date", fm.Date},
		{"title", fm.Title},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "is required")
		}
	}

	party, ok := document.ParseParty(fm.Party)
	if !ok {
		return invalid("party", "must be one of "+joinParties())
	}

	chamber, ok := document.ParseChamber(fm.Chamber)
	if !ok {
		return invalid("chamber", "must be house or senate")
	}

	date, err := parseDate(fm.Date)
	if err != nil {
		return invalid("date", "must be an ISO-8601 date (YYYY-MM-DD)")
	}

	title := strings.TrimSpace(fm.Title)
	if utf8.RuneCountInString(title) > document.MaxTitleLength {
		return invalid("title", "exceeds maximum length")
	}

	meta := document.Metadata{
		ID:      strings.TrimSpace(fm.ID),
		Speaker: strings.TrimSpace(fm.Speaker),
		Party:   party,
		Chamber: chamber,
		Date:    date,
		Title:   title,
	}

	if s := strings.TrimSpace(fm.State); s != "" {
		state, ok := document.ParseState(s)
		if !ok {
			return invalid("state", "must be one of "+strings.Join(document.States, ", "))
		}
		meta.State = &state
	}

	if r := strings.TrimSpace(fm.HansardRef); r != "" {
		meta.HansardRef = &r
	}

	return meta, nil
}

// parseDate は YYYY-MM-DD もしくは日付を含む RFC3339 を受け付けます
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(document.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func joinParties() string {
	codes := make([]string, len(document.Parties))
	for i, p := range document.Parties {
		codes[i] = string(p)
	}
	return strings.Join(codes, ", ")
}
