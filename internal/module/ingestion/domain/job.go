package domain

import (
	"sync"
	"time"
)

// Stage は1ドキュメントの取り込み状態
type Stage string

const (
	StagePending  Stage = "pending"
	StageParsed   Stage = "parsed"
	StageChunked  Stage = "chunked"
	StageEmbedded Stage = "embedded"
	StageStored   Stage = "stored"
	StageFailed   Stage = "failed"
)

// JobStatus はバルク取り込みジョブの状態
type JobStatus string

const (
	JobStatusRunning         JobStatus = "running"
	JobStatusSucceeded       JobStatus = "succeeded"
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCancelled       JobStatus = "cancelled"
)

// Counters はジョブの進捗カウンタ
type Counters struct {
	Discovered       int `json:"discovered"`
	Succeeded        int `json:"succeeded"`
	SkippedDuplicate int `json:"skippedDuplicate"`
	Failed           int `json:"failed"`
}

// Completed は処理が終わったドキュメント数を返します
func (c Counters) Completed() int {
	return c.Succeeded + c.SkippedDuplicate + c.Failed
}

// DocumentFailure はジョブ内で失敗したドキュメントの記録
type DocumentFailure struct {
	Ref        string `json:"ref"`
	DocumentID string `json:"documentId,omitempty"`
	Stage      Stage  `json:"stage"`
	Message    string `json:"message"`
}

// JobSnapshot は IngestionJob のある時点のコピー
type JobSnapshot struct {
	ID         string            `json:"jobId"`
	Dir        string            `json:"dir"`
	Pattern    string            `json:"pattern"`
	Policy     DuplicatePolicy   `json:"policy"`
	Status     JobStatus         `json:"status"`
	Counters   Counters          `json:"counters"`
	Failures   []DocumentFailure `json:"failures,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// ProgressEvent は1ドキュメント完了ごとに発行される進捗イベント
type ProgressEvent struct {
	JobID    string   `json:"jobId"`
	Ref      string   `json:"ref"`
	Outcome  Outcome  `json:"outcome"`
	Counters Counters `json:"counters"`
}

// Outcome は1ドキュメントの処理結果
type Outcome string

const (
	OutcomeStored   Outcome = "stored"
	OutcomeReplaced Outcome = "replaced"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// IngestionJob はバルク取り込みの実行状態。ドキュメントが並行に完了するため
// カウンタの更新はすべて mu の下で行う
type IngestionJob struct {
	mu         sync.Mutex
	id         string
	dir        string
	pattern    string
	policy     DuplicatePolicy
	status     JobStatus
	counters   Counters
	failures   []DocumentFailure
	startedAt  time.Time
	finishedAt *time.Time
}

// NewIngestionJob は running 状態のジョブを作成します
func NewIngestionJob(id, dir, pattern string, policy DuplicatePolicy, discovered int) *IngestionJob {
	return &IngestionJob{
		id:        id,
		dir:       dir,
		pattern:   pattern,
		policy:    policy,
		status:    JobStatusRunning,
		counters:  Counters{Discovered: discovered},
		startedAt: time.Now(),
	}
}

// ID はジョブIDを返します
func (j *IngestionJob) ID() string {
	return j.id
}

// Record は1ドキュメントの結果を反映し、更新後のカウンタを返します
func (j *IngestionJob) Record(outcome Outcome, failure *DocumentFailure) Counters {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch outcome {
	case OutcomeStored, OutcomeReplaced:
		j.counters.Succeeded++
	case OutcomeSkipped:
		j.counters.SkippedDuplicate++
	case OutcomeFailed:
		j.counters.Failed++
		if failure != nil {
			j.failures = append(j.failures, *failure)
		}
	}
	return j.counters
}

// Finish は最終状態を確定します。cancelled が true の場合は cancelled になる
func (j *IngestionJob) Finish(cancelled bool) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.finishedAt = &now

	c := j.counters
	switch {
	case cancelled:
		j.status = JobStatusCancelled
	case c.Failed == 0:
		j.status = JobStatusSucceeded
	case c.Succeeded == 0 && c.SkippedDuplicate == 0:
		j.status = JobStatusFailed
	default:
		j.status = JobStatusPartiallyFailed
	}
	return j.status
}

// Snapshot は現在の状態のコピーを返します
func (j *IngestionJob) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	failures := make([]DocumentFailure, len(j.failures))
	copy(failures, j.failures)

	var finished *time.Time
	if j.finishedAt != nil {
		t := *j.finishedAt
		finished = &t
	}

	return JobSnapshot{
		ID:         j.id,
		Dir:        j.dir,
		Pattern:    j.pattern,
		Policy:     j.policy,
		Status:     j.status,
		Counters:   j.counters,
		Failures:   failures,
		StartedAt:  j.startedAt,
		FinishedAt: finished,
	}
}
