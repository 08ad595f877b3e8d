package application_test

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/hansard-rag/internal/module/ingestion/application"
	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	ingesttest "github.com/jinford/hansard-rag/internal/module/ingestion/testing"
	llmtest "github.com/jinford/hansard-rag/internal/module/llm/testing"
)

func putSpeeches(f *fixture, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		f.source.Put(fmt.Sprintf("bulk/%s.md", id), ingesttest.TestSpeech(id).Render())
	}
}

func waitJob(t *testing.T, s *application.IngestService, jobID string) domain.JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx, jobID)
	require.NoError(t, err)
	return snap
}

func TestIngestService_Bulk_PartialFailureIsolation(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	putSpeeches(f, 9)
	f.source.Put("bulk/broken.md", "no front matter here\n")

	// Execute
	jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)
	snap := waitJob(t, f.service, jobID)

	// Assert
	assert.Equal(t, domain.JobStatusPartiallyFailed, snap.Status)
	assert.Equal(t, domain.Counters{Discovered: 10, Succeeded: 9, Failed: 1}, snap.Counters)
	require.Len(t, snap.Failures, 1)
	assert.Equal(t, "bulk/broken.md", snap.Failures[0].Ref)
	assert.Equal(t, domain.StageParsed, snap.Failures[0].Stage)
	assert.NotNil(t, snap.FinishedAt)

	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		assert.Equal(t, ingesttest.TestSpeech(id).Body, f.fullText(t, id))
	}
}

func TestIngestService_Bulk_FinalStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("すべて成功", func(t *testing.T) {
		f := newFixture(t)
		putSpeeches(f, 3)

		jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
		require.NoError(t, err)
		snap := waitJob(t, f.service, jobID)

		assert.Equal(t, domain.JobStatusSucceeded, snap.Status)
		assert.Equal(t, 3, snap.Counters.Succeeded)
		assert.Equal(t, domain.DuplicatePolicySkip, snap.Policy)
	})

	t.Run("すべて失敗", func(t *testing.T) {
		f := newFixture(t)
		f.source.Put("bulk/a.md", "broken")
		f.source.Put("bulk/b.md", "broken")

		jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
		require.NoError(t, err)
		snap := waitJob(t, f.service, jobID)

		assert.Equal(t, domain.JobStatusFailed, snap.Status)
		assert.Equal(t, 2, snap.Counters.Failed)
	})

	t.Run("再実行は skipped として数える", func(t *testing.T) {
		f := newFixture(t)
		putSpeeches(f, 4)

		first, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
		require.NoError(t, err)
		waitJob(t, f.service, first)

		second, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md", Policy: domain.DuplicatePolicySkip})
		require.NoError(t, err)
		snap := waitJob(t, f.service, second)

		assert.Equal(t, domain.JobStatusSucceeded, snap.Status)
		assert.Equal(t, domain.Counters{Discovered: 4, SkippedDuplicate: 4}, snap.Counters)
		assert.Equal(t, 4, f.store.AddCalls())
	})

	t.Run("reject の重複は失敗として記録される", func(t *testing.T) {
		f := newFixture(t)
		putSpeeches(f, 2)

		first, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
		require.NoError(t, err)
		waitJob(t, f.service, first)

		second, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md", Policy: domain.DuplicatePolicyReject})
		require.NoError(t, err)
		snap := waitJob(t, f.service, second)

		assert.Equal(t, domain.JobStatusFailed, snap.Status)
		require.Len(t, snap.Failures, 2)
		assert.Contains(t, snap.Failures[0].Message, "already exists")
	})
}

func TestIngestService_Bulk_ProgressEvents(t *testing.T) {
	// Setup
	ctx := context.Background()
	gate := make(chan struct{})
	f := newFixture(t, withEmbedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		<-gate
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = llmtest.HashVector(text, 8)
		}
		return out, nil
	}))
	putSpeeches(f, 10)

	jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)

	events, unsubscribe, err := f.service.Subscribe(jobID)
	require.NoError(t, err)
	defer unsubscribe()

	// Execute
	close(gate)
	var received []domain.ProgressEvent
	for ev := range events {
		received = append(received, ev)
	}

	// Assert
	require.Len(t, received, 10)
	var completed []int
	for _, ev := range received {
		assert.Equal(t, jobID, ev.JobID)
		assert.Equal(t, domain.OutcomeStored, ev.Outcome)
		assert.Equal(t, 10, ev.Counters.Discovered)
		completed = append(completed, ev.Counters.Completed())
	}
	sort.Ints(completed)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, completed)

	snap, err := f.service.JobStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Counters.Succeeded)
}

func TestIngestService_Bulk_BoundedConcurrency(t *testing.T) {
	// Setup
	ctx := context.Background()
	var inFlight, peak atomic.Int32
	f := newFixture(t,
		withConfig(application.Config{Concurrency: 2}),
		withEmbedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = llmtest.HashVector(text, 8)
			}
			return out, nil
		}))
	putSpeeches(f, 8)

	// Execute
	jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)
	snap := waitJob(t, f.service, jobID)

	// Assert
	assert.Equal(t, 8, snap.Counters.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestIngestService_Bulk_CancelBetweenDocuments(t *testing.T) {
	// Setup
	ctx := context.Background()
	started := make(chan struct{}, 16)
	gate := make(chan struct{})
	f := newFixture(t,
		withConfig(application.Config{Concurrency: 1}),
		withEmbedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			started <- struct{}{}
			<-gate
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = llmtest.HashVector(text, 8)
			}
			return out, nil
		}))
	putSpeeches(f, 5)

	jobID, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)

	// Execute
	<-started
	require.NoError(t, f.service.CancelJob(jobID))
	close(gate)
	snap := waitJob(t, f.service, jobID)

	// Assert
	assert.Equal(t, domain.JobStatusCancelled, snap.Status)
	assert.Equal(t, 1, snap.Counters.Succeeded)
	assert.Equal(t, 0, snap.Counters.Failed)
	assert.Equal(t, 1, f.store.ChunkCount("doc-00"))
	assert.Equal(t, 1, f.store.AddCalls())
}

func TestIngestService_Bulk_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("対象ファイルなし", func(t *testing.T) {
		_, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "empty", Pattern: "*.md"})
		assert.ErrorIs(t, err, domain.ErrNoDocuments)
	})

	t.Run("存在しないジョブ", func(t *testing.T) {
		_, err := f.service.JobStatus("missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)

		_, _, err = f.service.Subscribe("missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)

		assert.ErrorIs(t, f.service.CancelJob("missing"), domain.ErrJobNotFound)
	})
}

func TestIngestService_ListJobs(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newFixture(t)
	putSpeeches(f, 2)

	first, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)
	waitJob(t, f.service, first)
	second, err := f.service.StartBulk(ctx, application.BulkRequest{Dir: "bulk", Pattern: "*.md"})
	require.NoError(t, err)
	waitJob(t, f.service, second)

	// Execute
	jobs := f.service.ListJobs()

	// Assert
	require.Len(t, jobs, 2)
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, second, jobs[1].ID)

	// 完了済みジョブの購読は閉じたチャネルを返す
	events, unsubscribe, err := f.service.Subscribe(first)
	require.NoError(t, err)
	defer unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestIngestService_StartBulk_InvalidPolicy(t *testing.T) {
	// Setup
	f := newFixture(t)
	putSpeeches(f, 2)

	// Execute
	jobID, err := f.service.StartBulk(context.Background(), application.BulkRequest{Dir: "bulk", Pattern: "*.md", Policy: "merge"})

	// Assert
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)
	assert.Empty(t, jobID)
	assert.Empty(t, f.service.ListJobs())
	assert.Equal(t, 0, f.store.AddCalls())
}
