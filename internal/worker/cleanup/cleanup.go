// Package cleanup はプロフィールに残った古い同期エラーを消去する日次ジョブを提供する。
// 最終同期から保持期間（デフォルト30日）を過ぎたプロフィールの last_sync_error をNULLに戻す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const pruneQuery = `UPDATE profiles
	SET last_sync_error = NULL, updated_at = now()
	WHERE last_sync_error IS NOT NULL
		AND (last_sync IS NULL OR last_sync < now() - $1::interval)`

// CleanupJob は古い同期エラーを消去するジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 同期エラーの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger.With("component", "cleanup"),
		RetentionDays: 30,
	}
}

// Run は保持期間を過ぎた同期エラーを消去する。
// 対象がない場合もエラーにはならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, pruneQuery, interval)
	if err != nil {
		j.logger.Error("同期エラーのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("同期エラーのクリーンアップに失敗: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	j.logger.Info("同期エラーのクリーンアップが完了しました",
		slog.Int64("affected_count", affected),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
