// Package cleanup は放置された候補図書館の自動破棄ジョブを提供する。
// 位置検索の結果を選択しないまま一定時間（デフォルト24時間）が経過した
// ユーザーの候補図書館を定期バッチで空にする。お気に入りには触れない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCandidateTTL は候補図書館を保持するデフォルトの時間。
const DefaultCandidateTTL = 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は破棄件数を記録するインターフェース。
type Recorder interface {
	RecordCandidatesCleared(count int64)
}

// clearQuery は期限切れの候補図書館を空にする。
// バージョンを進めるため、同時に処理中の会話とは条件付き更新で競合として検出される。
const clearQuery = `UPDATE user_states
SET libraries = '[]'::jsonb,
    libraries_updated_at = NULL,
    version = version + 1,
    updated_at = now()
WHERE libraries_updated_at < now() - $1::interval
  AND jsonb_array_length(libraries) > 0`

// CleanupJob は期限切れの候補図書館を破棄するジョブ。
// 冪等な更新処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	db           Executor
	recorder     Recorder
	logger       *slog.Logger
	CandidateTTL time.Duration // 候補図書館の保持時間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderはnilでもよい。
func NewCleanupJob(db Executor, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:           db,
		recorder:     recorder,
		logger:       logger,
		CandidateTTL: DefaultCandidateTTL,
	}
}

// Run は保持時間を超過した候補図書館を空にする。
// libraries_updated_atがCandidateTTLより古く、候補が残っているレコードだけを更新する。
// 冪等: 対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.CandidateTTL/time.Second))

	result, err := j.db.ExecContext(ctx, clearQuery, interval)
	if err != nil {
		j.logger.Error("候補図書館クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("candidate_ttl", j.CandidateTTL),
		)
		return fmt.Errorf("候補図書館クリーンアップの実行に失敗: %w", err)
	}

	clearedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordCandidatesCleared(clearedCount)
	}

	duration := time.Since(start)
	j.logger.Info("候補図書館クリーンアップジョブが完了しました",
		slog.Int64("cleared_count", clearedCount),
		slog.Duration("candidate_ttl", j.CandidateTTL),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
