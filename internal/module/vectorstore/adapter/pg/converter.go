package pg

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/hansard-rag/internal/module/vectorstore/adapter/pg/sqlc"
	"github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

// StringPtrToPgtext converts *string to pgtype.Text
func StringPtrToPgtext(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// StringToNullableText converts string to pgtype.Text (nullable)
func StringToNullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// PgtextToStringPtr converts pgtype.Text to *string
func PgtextToStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// TimeToPgdate converts time.Time to pgtype.Date
func TimeToPgdate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}

// TimePtrToPgdate converts *time.Time to pgtype.Date (nullable)
func TimePtrToPgdate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

// PgdateToTime converts pgtype.Date to a UTC time.Time
func PgdateToTime(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	y, m, day := d.Time.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// PgtypeToTime converts pgtype.Timestamp to time.Time
func PgtypeToTime(ts pgtype.Timestamp) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

// MetadataFromColumns は speech_documents の列からメタデータを組み立てます
func MetadataFromColumns(id, speaker, party, chamber string, date pgtype.Date, title string, state, hansardRef pgtype.Text) document.Metadata {
	return document.Metadata{
		ID:         id,
		Speaker:    speaker,
		Party:      document.Party(party),
		Chamber:    document.Chamber(chamber),
		Date:       PgdateToTime(date),
		Title:      title,
		State:      PgtextToStringPtr(state),
		HansardRef: PgtextToStringPtr(hansardRef),
	}
}

func toInsertDocumentParams(collection string, req domain.AddRequest) sqlc.InsertDocumentParams {
	m := req.Metadata
	return sqlc.InsertDocumentParams{
		Collection:     collection,
		DocumentID:     req.DocumentID,
		Speaker:        m.Speaker,
		Party:          string(m.Party),
		Chamber:        string(m.Chamber),
		SpeechDate:     TimeToPgdate(m.Date),
		Title:          m.Title,
		State:          StringPtrToPgtext(m.State),
		HansardRef:     StringPtrToPgtext(m.HansardRef),
		ContentHash:    req.ContentHash,
		EmbeddingModel: req.Vectors[0].Model,
		ChunkCount:     int32(len(req.Chunks)),
	}
}

func toUpdateDocumentParams(collection string, req domain.AddRequest) sqlc.UpdateDocumentParams {
	p := toInsertDocumentParams(collection, req)
	return sqlc.UpdateDocumentParams(p)
}

func toInsertChunkParams(collection, documentID string, c document.Chunk, v document.EmbeddingVector) sqlc.InsertChunkParams {
	return sqlc.InsertChunkParams{
		Collection:     collection,
		DocumentID:     documentID,
		ChunkIndex:     int32(c.Index),
		StartOffset:    int32(c.Start),
		CharLength:     int32(c.Length),
		Content:        c.Text,
		Embedding:      pgvector.NewVector(v.Values),
		EmbeddingModel: v.Model,
	}
}

func toSearchParams(collection string, q domain.Query) sqlc.SearchChunksParams {
	f := q.Filter
	return sqlc.SearchChunksParams{
		QueryVector: pgvector.NewVector(q.Vector),
		Collection:  collection,
		Party:       StringToNullableText(string(f.Party)),
		Chamber:     StringToNullableText(string(f.Chamber)),
		Speaker:     StringToNullableText(f.Speaker),
		State:       StringToNullableText(f.State),
		DateFrom:    TimePtrToPgdate(f.DateFrom),
		DateTo:      TimePtrToPgdate(f.DateTo),
		ResultLimit: int32(q.K),
	}
}

func toHit(row sqlc.SearchChunksRow) domain.Hit {
	return domain.Hit{
		DocumentID: row.DocumentID,
		ChunkIndex: int(row.ChunkIndex),
		Text:       row.Content,
		Metadata: MetadataFromColumns(row.DocumentID, row.Speaker, row.Party, row.Chamber,
			row.SpeechDate, row.Title, row.State, row.HansardRef),
		Distance: row.Distance,
		Score:    1 - row.Distance,
	}
}

func toStoredDocument(row sqlc.SpeechDocument) *domain.StoredDocument {
	return &domain.StoredDocument{
		Metadata: MetadataFromColumns(row.DocumentID, row.Speaker, row.Party, row.Chamber,
			row.SpeechDate, row.Title, row.State, row.HansardRef),
		ContentHash:    row.ContentHash,
		ChunkCount:     int(row.ChunkCount),
		EmbeddingModel: row.EmbeddingModel,
		CreatedAt:      PgtypeToTime(row.CreatedAt),
		UpdatedAt:      PgtypeToTime(row.UpdatedAt),
	}
}

// ChunkFromColumns は speech_chunks の列から StoredChunk を組み立てます
func ChunkFromColumns(documentID string, index, start, length int32, content string, embedding pgvector.Vector, model string) domain.StoredChunk {
	return domain.StoredChunk{
		DocumentID: documentID,
		Chunk: document.Chunk{
			Index:  int(index),
			Start:  int(start),
			Text:   content,
			Length: int(length),
		},
		Vector: document.EmbeddingVector{
			Values: embedding.Slice(),
			Model:  model,
		},
	}
}
