package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	vsdomain "github.com/jinford/hansard-rag/internal/module/vectorstore/domain"
	"github.com/jinford/hansard-rag/internal/shared/document"
)

// DefaultConcurrency はバルク取り込みで同時に処理するドキュメント数のデフォルト値
const DefaultConcurrency = 4

// Config は取り込みサービスの設定
type Config struct {
	// Concurrency はバルク取り込みの同時処理数（埋め込みサービスのレート制限に合わせる）
	Concurrency int
	// OverwriteStrategy は overwrite ポリシー時の Embedding 再計算方法
	OverwriteStrategy domain.OverwriteStrategy
}

// IngestResult は1ドキュメントの取り込み結果
type IngestResult struct {
	Status        domain.Outcome `json:"status"`
	DocumentID    string         `json:"documentId"`
	ChunkCount    int            `json:"chunkCount"`
	ReusedVectors int            `json:"reusedVectors,omitempty"`
	Duration      time.Duration  `json:"-"`
}

// IngestService は Parser → Chunker → Embedder → Store を1ドキュメント単位で統括します
type IngestService struct {
	source   domain.DocumentSource
	parser   domain.Parser
	chunker  domain.Chunker
	embedder domain.ChunkEmbedder
	store    vsdomain.Store
	cfg      Config
	logger   *slog.Logger

	jobs *jobRegistry
}

// NewIngestService は新しい IngestService を作成します
func NewIngestService(
	source domain.DocumentSource,
	parser domain.Parser,
	chunker domain.Chunker,
	embedder domain.ChunkEmbedder,
	store vsdomain.Store,
	cfg Config,
	logger *slog.Logger,
) *IngestService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.OverwriteStrategy == "" {
		cfg.OverwriteStrategy = domain.OverwriteReembed
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		source:   source,
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		jobs:     newJobRegistry(),
	}
}

// IngestOne は1ドキュメントを取り込みます。いずれかのステージで失敗した場合は
// 何も書き込まず *domain.DocumentError を返します
func (s *IngestService) IngestOne(ctx context.Context, ref string, policy domain.DuplicatePolicy) (*IngestResult, error) {
	policy, err := domain.ParseDuplicatePolicy(string(policy))
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, Stage: domain.StagePending, Err: err}
	}
	started := time.Now()

	raw, err := s.source.Read(ctx, ref)
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, Stage: domain.StagePending, Err: err}
	}

	// Parsed
	doc, err := s.parser.Parse(ref, raw)
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, Stage: domain.StageParsed, Err: err}
	}
	id := doc.Metadata.ID

	// Chunked
	chunks, err := s.chunker.Split(doc.Body)
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageChunked, Err: err}
	}
	if len(chunks) == 0 {
		return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageChunked, Err: errors.New("document produced no chunks")}
	}

	// 重複ポリシーは Embedding の前に適用する
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageChunked, Err: fmt.Errorf("failed to check existing document: %w", err)}
	}
	if exists {
		switch policy {
		case domain.DuplicatePolicySkip:
			s.logger.Info("document already stored, skipping", "ref", ref, "documentId", id)
			return &IngestResult{Status: domain.OutcomeSkipped, DocumentID: id, Duration: time.Since(started)}, nil
		case domain.DuplicatePolicyReject:
			return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageChunked, Err: &domain.DuplicateConflict{DocumentID: id}}
		}
	}

	// Embedded
	vectors, reused, err := s.embed(ctx, id, chunks, exists && policy == domain.DuplicatePolicyOverwrite)
	if err != nil {
		return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageEmbedded, Err: err}
	}

	// Stored: 書き込み中のキャンセルでトランザクションを中断させない
	mode := vsdomain.InsertOnly
	if policy == domain.DuplicatePolicyOverwrite {
		mode = vsdomain.Replace
	}
	err = s.store.Add(context.WithoutCancel(ctx), vsdomain.AddRequest{
		DocumentID:  id,
		Chunks:      chunks,
		Vectors:     vectors,
		Metadata:    doc.Metadata,
		ContentHash: doc.ContentHash,
		Mode:        mode,
	})
	if err != nil {
		// Exists と Add の間に他のタスクが書き込んだ場合
		if errors.Is(err, vsdomain.ErrDocumentExists) {
			switch policy {
			case domain.DuplicatePolicySkip:
				return &IngestResult{Status: domain.OutcomeSkipped, DocumentID: id, Duration: time.Since(started)}, nil
			case domain.DuplicatePolicyReject:
				err = &domain.DuplicateConflict{DocumentID: id}
			}
		}
		return nil, &domain.DocumentError{Ref: ref, DocumentID: id, Stage: domain.StageStored, Err: err}
	}

	status := domain.OutcomeStored
	if exists {
		status = domain.OutcomeReplaced
	}

	s.logger.Info("document ingested",
		"ref", ref,
		"documentId", id,
		"status", status,
		"chunks", len(chunks),
		"reusedVectors", reused,
		"duration", time.Since(started))

	return &IngestResult{
		Status:        status,
		DocumentID:    id,
		ChunkCount:    len(chunks),
		ReusedVectors: reused,
		Duration:      time.Since(started),
	}, nil
}

// embed はチャンクをベクトル化します。reuse 戦略で上書きする場合は、
// 同じモデルで同じテキストのチャンクについて保存済みベクトルを再利用します
func (s *IngestService) embed(ctx context.Context, id string, chunks []document.Chunk, overwriting bool) ([]document.EmbeddingVector, int, error) {
	if !overwriting || s.cfg.OverwriteStrategy != domain.OverwriteReuse {
		vectors, err := s.embedder.EmbedChunks(ctx, chunks)
		return vectors, 0, err
	}

	stored, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load stored chunks: %w", err)
	}

	model := s.embedder.ModelName()
	known := make(map[string]document.EmbeddingVector, len(stored))
	for _, sc := range stored {
		if sc.Vector.Model == model && sc.Vector.Dimension() == s.embedder.Dimension() {
			known[sc.Chunk.Text] = sc.Vector
		}
	}

	vectors := make([]document.EmbeddingVector, len(chunks))
	var (
		missing  []document.Chunk
		position []int
	)
	for i, c := range chunks {
		if v, ok := known[c.Text]; ok {
			vectors[i] = v
			continue
		}
		missing = append(missing, c)
		position = append(position, i)
	}

	if len(missing) > 0 {
		fresh, err := s.embedder.EmbedChunks(ctx, missing)
		if err != nil {
			return nil, 0, err
		}
		for j, v := range fresh {
			vectors[position[j]] = v
		}
	}

	reused := len(chunks) - len(missing)
	s.logger.Debug("reused stored vectors", "documentId", id, "reused", reused, "embedded", len(missing))
	return vectors, reused, nil
}
