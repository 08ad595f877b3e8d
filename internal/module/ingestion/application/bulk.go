package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
)

// BulkRequest はバルク取り込みの対象と重複ポリシー
type BulkRequest struct {
	Dir     string
	Pattern string
	Policy  domain.DuplicatePolicy
}

// StartBulk は対象ファイルを列挙してジョブを作成し、バックグラウンドで取り込みを開始します。
// 1ドキュメントの失敗はジョブに記録され、他のドキュメントには影響しません
func (s *IngestService) StartBulk(ctx context.Context, req BulkRequest) (string, error) {
	policy, err := domain.ParseDuplicatePolicy(string(req.Policy))
	if err != nil {
		return "", err
	}
	req.Policy = policy

	refs, err := s.source.Discover(ctx, req.Dir, req.Pattern)
	if err != nil {
		return "", fmt.Errorf("failed to discover documents: %w", err)
	}
	if len(refs) == 0 {
		return "", fmt.Errorf("%w: %s in %s", domain.ErrNoDocuments, req.Pattern, req.Dir)
	}

	job := domain.NewIngestionJob(uuid.NewString(), req.Dir, req.Pattern, req.Policy, len(refs))

	// ジョブは呼び出し元のリクエストより長く生きる
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := s.jobs.add(job, cancel)

	s.logger.Info("bulk ingestion started",
		"jobId", job.ID(),
		"dir", req.Dir,
		"pattern", req.Pattern,
		"policy", req.Policy,
		"discovered", len(refs),
		"concurrency", s.cfg.Concurrency)

	go s.runBulk(jobCtx, entry, refs, req.Policy)

	return job.ID(), nil
}

// runBulk は有限の並行度でドキュメントを処理します。
// キャンセルはドキュメントの間でのみ反映し、処理中のドキュメントは最後まで実行します
func (s *IngestService) runBulk(jobCtx context.Context, entry *jobEntry, refs []string, policy domain.DuplicatePolicy) {
	defer entry.cancel()

	job := entry.job
	docCtx := context.WithoutCancel(jobCtx)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, ref := range refs {
		if jobCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if jobCtx.Err() != nil {
				return nil
			}
			s.processBulkDocument(docCtx, entry, ref, policy)
			return nil
		})
	}
	_ = g.Wait()

	counters := job.Snapshot().Counters
	cancelled := jobCtx.Err() != nil && counters.Completed() < counters.Discovered
	status := job.Finish(cancelled)

	final := job.Snapshot()
	s.logger.Info("bulk ingestion finished",
		"jobId", job.ID(),
		"status", status,
		"succeeded", final.Counters.Succeeded,
		"skipped", final.Counters.SkippedDuplicate,
		"failed", final.Counters.Failed,
		"discovered", final.Counters.Discovered)

	entry.finish()
}

func (s *IngestService) processBulkDocument(ctx context.Context, entry *jobEntry, ref string, policy domain.DuplicatePolicy) {
	job := entry.job

	var (
		outcome domain.Outcome
		failure *domain.DocumentFailure
	)

	result, err := s.IngestOne(ctx, ref, policy)
	if err != nil {
		outcome = domain.OutcomeFailed
		failure = &domain.DocumentFailure{Ref: ref, Stage: domain.StageFailed, Message: err.Error()}
		var docErr *domain.DocumentError
		if errors.As(err, &docErr) {
			failure.DocumentID = docErr.DocumentID
			failure.Stage = docErr.Stage
		}
		s.logger.Warn("document failed in bulk ingestion",
			"jobId", job.ID(),
			"ref", ref,
			"stage", failure.Stage,
			"error", err)
	} else {
		outcome = result.Status
	}

	counters := job.Record(outcome, failure)
	entry.publish(domain.ProgressEvent{
		JobID:    job.ID(),
		Ref:      ref,
		Outcome:  outcome,
		Counters: counters,
	})
}
