package application

import (
	"context"
	"sort"
	"sync"

	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
)

// subscriberBuffer は購読者ごとの進捗イベントのバッファ数。溢れたイベントは破棄する
const subscriberBuffer = 64

// jobEntry は実行中・完了済みのジョブと、その購読者
type jobEntry struct {
	job    *domain.IngestionJob
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	subscribers map[int]chan domain.ProgressEvent
	nextSubID   int
	closed      bool
}

// publish は購読者へイベントを送ります。受信側が詰まっていても取り込みは待たない
func (e *jobEntry) publish(ev domain.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *jobEntry) subscribe() (<-chan domain.ProgressEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(c)
		}
	}
}

// finish は購読チャネルをすべて閉じ、完了を通知します
func (e *jobEntry) finish() {
	e.mu.Lock()
	e.closed = true
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	e.mu.Unlock()
	close(e.done)
}

type jobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*jobEntry)}
}

func (r *jobRegistry) add(job *domain.IngestionJob, cancel context.CancelFunc) *jobEntry {
	e := &jobEntry{
		job:         job,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[int]chan domain.ProgressEvent),
	}
	r.mu.Lock()
	r.jobs[job.ID()] = e
	r.mu.Unlock()
	return e
}

func (r *jobRegistry) get(id string) (*jobEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return e, nil
}

func (r *jobRegistry) list() []*jobEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	return entries
}

// JobStatus はジョブの現在の状態を返します
func (s *IngestService) JobStatus(jobID string) (domain.JobSnapshot, error) {
	e, err := s.jobs.get(jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return e.job.Snapshot(), nil
}

// Subscribe はジョブの進捗イベントを購読します。ジョブ完了時にチャネルは閉じられます。
// 返される関数で購読を解除できます
func (s *IngestService) Subscribe(jobID string) (<-chan domain.ProgressEvent, func(), error) {
	e, err := s.jobs.get(jobID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := e.subscribe()
	return ch, unsubscribe, nil
}

// Wait はジョブの完了を待ち、最終状態を返します
func (s *IngestService) Wait(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	e, err := s.jobs.get(jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	select {
	case <-e.done:
		return e.job.Snapshot(), nil
	case <-ctx.Done():
		return e.job.Snapshot(), ctx.Err()
	}
}

// CancelJob はジョブに中断を要求します。処理中のドキュメントは完了するまで実行されます
func (s *IngestService) CancelJob(jobID string) error {
	e, err := s.jobs.get(jobID)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// ListJobs は開始時刻順にすべてのジョブの状態を返します
func (s *IngestService) ListJobs() []domain.JobSnapshot {
	entries := s.jobs.list()
	snapshots := make([]domain.JobSnapshot, len(entries))
	for i, e := range entries {
		snapshots[i] = e.job.Snapshot()
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})
	return snapshots
}

// Shutdown は実行中のジョブをすべて中断し、終了を待ちます
func (s *IngestService) Shutdown(ctx context.Context) error {
	entries := s.jobs.list()
	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
