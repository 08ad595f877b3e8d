package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	ingestion "github.com/jinford/hansard-rag/internal/module/ingestion/application"
	"github.com/jinford/hansard-rag/internal/module/ingestion/domain"
)

// cancelGrace はシグナル受信後、処理中のドキュメントの完了を待つ上限
const cancelGrace = 2 * time.Minute

func (a *Actions) policy(cmd *cli.Command, appCtx *AppContext) (domain.DuplicatePolicy, error) {
	if v := cmd.String("policy"); v != "" {
		return domain.ParseDuplicatePolicy(v)
	}
	return appCtx.Container.DuplicatePolicy, nil
}

// IngestFileAction は指定したファイルを1件ずつ取り込むコマンドのアクション
func (a *Actions) IngestFileAction(ctx context.Context, cmd *cli.Command) error {
	refs := cmd.Args().Slice()
	if len(refs) == 0 {
		return errors.New("取り込むファイルを指定してください")
	}

	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	policy, err := a.policy(cmd, appCtx)
	if err != nil {
		return err
	}
	if err := appCtx.Container.Prepare(ctx); err != nil {
		return err
	}

	type fileResult struct {
		Ref    string                  `json:"ref"`
		Result *ingestion.IngestResult `json:"result,omitempty"`
		Error  string                  `json:"error,omitempty"`
	}

	var (
		results []fileResult
		errs    []error
	)
	for _, ref := range refs {
		res, err := appCtx.Container.IngestService.IngestOne(ctx, ref, policy)
		if err != nil {
			appCtx.Logger.Error("取り込みに失敗しました", "ref", ref, "error", err)
			results = append(results, fileResult{Ref: ref, Error: err.Error()})
			errs = append(errs, err)
			continue
		}
		results = append(results, fileResult{Ref: ref, Result: res})
	}

	if err := writeJSON(output(cmd), results); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// IngestDirAction はディレクトリ配下を一括で取り込むコマンドのアクション。
// 割り込みを受けた場合はジョブをキャンセルし、処理中のドキュメントの完了を待つ
func (a *Actions) IngestDirAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.appContext(cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	policy, err := a.policy(cmd, appCtx)
	if err != nil {
		return err
	}
	if err := appCtx.Container.Prepare(ctx); err != nil {
		return err
	}

	svc := appCtx.Container.IngestService
	jobID, err := svc.StartBulk(ctx, ingestion.BulkRequest{
		Dir:     cmd.String("dir"),
		Pattern: cmd.String("pattern"),
		Policy:  policy,
	})
	if err != nil {
		return err
	}

	events, unsubscribe, err := svc.Subscribe(jobID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	go func() {
		for ev := range events {
			appCtx.Logger.Info("進捗",
				"jobId", ev.JobID,
				"ref", ev.Ref,
				"outcome", ev.Outcome,
				"completed", ev.Counters.Completed(),
				"discovered", ev.Counters.Discovered,
			)
		}
	}()

	snap, err := svc.Wait(ctx, jobID)
	if err != nil {
		appCtx.Logger.Warn("ジョブをキャンセルします", "jobId", jobID)
		if cerr := svc.CancelJob(jobID); cerr != nil {
			return cerr
		}
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelGrace)
		defer cancel()
		if snap, err = svc.Wait(waitCtx, jobID); err != nil {
			return fmt.Errorf("ジョブの終了待ちに失敗: %w", err)
		}
	}

	if err := writeJSON(output(cmd), snap); err != nil {
		return err
	}
	if snap.Status == domain.JobStatusFailed {
		return fmt.Errorf("bulk ingestion failed: %d of %d documents failed", snap.Counters.Failed, snap.Counters.Discovered)
	}
	return nil
}
