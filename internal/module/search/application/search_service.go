package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
	vsdomain "github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	maxPreviewLength   = 240
)

// SearchService は検索と取得のユースケースを提供します
type SearchService struct {
	embedder searchdomain.QueryEmbedder
	reader   searchdomain.Reader
	log      *slog.Logger
}

// NewSearchService は新しいSearchServiceを作成します
func NewSearchService(embedder searchdomain.QueryEmbedder, reader searchdomain.Reader, log *slog.Logger) *SearchService {
	if log == nil {
		log = slog.Default()
	}
	return &SearchService{
		embedder: embedder,
		reader:   reader,
		log:      log,
	}
}

// Search はクエリをベクトル化し、フィルタ適用後に距離の近い順でチャンクを返します
func (s *SearchService) Search(ctx context.Context, params searchdomain.SearchParams) (*searchdomain.SearchResponse, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, searchdomain.ErrEmptyQuery
	}

	filter, err := ParseFilter(params.Filter)
	if err != nil {
		return nil, err
	}

	// Limit の正規化
	k := params.K
	if k <= 0 {
		k = defaultSearchLimit
	} else if k > maxSearchLimit {
		k = maxSearchLimit
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.reader.Search(ctx, vsdomain.Query{Vector: vector, K: k, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]searchdomain.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = searchdomain.SearchResult{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Title:      h.Metadata.Title,
			Date:       h.Metadata.Date.Format(document.DateLayout),
			Speaker:    h.Metadata.Speaker,
			Party:      h.Metadata.Party,
			Chamber:    h.Metadata.Chamber,
			Score:      h.Score,
			Distance:   h.Distance,
			Preview:    Preview(h.Text, maxPreviewLength),
		}
	}

	s.log.Debug("search completed", "query", query, "k", k, "results", len(results))

	return &searchdomain.SearchResponse{Results: results, TotalFound: len(results)}, nil
}

// Fetch はドキュメントの全チャンクを順に取得し、本文を復元します
func (s *SearchService) Fetch(ctx context.Context, documentID string) (*searchdomain.FetchedDocument, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	stored, err := s.reader.ListChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: %s", searchdomain.ErrDocumentNotFound, documentID)
	}

	doc, err := s.reader.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, vsdomain.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %s", searchdomain.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	chunks := make([]document.Chunk, len(stored))
	for i, sc := range stored {
		chunks[i] = sc.Chunk
	}
	text, err := document.Reassemble(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to reassemble document %s: %w", documentID, err)
	}

	m := doc.Metadata
	return &searchdomain.FetchedDocument{
		ID: documentID,
		Metadata: searchdomain.DocumentMetadata{
			Speaker:    m.Speaker,
			Party:      m.Party,
			Chamber:    m.Chamber,
			Date:       m.Date.Format(document.DateLayout),
			Title:      m.Title,
			State:      m.State,
			HansardRef: m.HansardRef,
		},
		FullText:   text,
		ChunkCount: len(stored),
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// ParseFilter は未検証の絞り込み条件を検証し、ストア用のフィルタに変換します
func ParseFilter(in searchdomain.FilterInput) (vsdomain.Filter, error) {
	var f vsdomain.Filter

	if v := strings.TrimSpace(in.Party); v != "" {
		p, ok := document.ParseParty(v)
		if !ok {
			return f, &searchdomain.FilterError{Field: "category", Value: in.Party, Reason: "unknown party code"}
		}
		f.Party = p
	}

	if v := strings.TrimSpace(in.Chamber); v != "" {
		c, ok := document.ParseChamber(v)
		if !ok {
			return f, &searchdomain.FilterError{Field: "chamber", Value: in.Chamber, Reason: "must be house or senate"}
		}
		f.Chamber = c
	}

	if v := strings.TrimSpace(in.State); v != "" {
		st, ok := document.ParseState(v)
		if !ok {
			return f, &searchdomain.FilterError{Field: "state", Value: in.State, Reason: "unknown state code"}
		}
		f.State = st
	}

	f.Speaker = strings.TrimSpace(in.Speaker)

	from, err := parseFilterDate("date_from", in.DateFrom)
	if err != nil {
		return f, err
	}
	to, err := parseFilterDate("date_to", in.DateTo)
	if err != nil {
		return f, err
	}
	if from != nil && to != nil && from.After(*to) {
		return f, &searchdomain.FilterError{Field: "date_from", Value: in.DateFrom, Reason: "must not be after date_to"}
	}
	f.DateFrom, f.DateTo = from, to

	return f, nil
}

func parseFilterDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(document.DateLayout, value)
	if err != nil {
		return nil, &searchdomain.FilterError{Field: field, Value: value, Reason: "must be YYYY-MM-DD"}
	}
	return &t, nil
}

// Preview はテキストの先頭 max 文字を返します。切り詰めた場合は末尾に "…" を付けます
func Preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}
