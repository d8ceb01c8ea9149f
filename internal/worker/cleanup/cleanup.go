// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れセッションと、プロセス障害で取り残されたpending状態の
// 台帳レコードを日次バッチで削除する。
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
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションと残留pendingレコードの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
//
// pendingレコードは予約→リモート反映→確定の途中でプロセスが落ちた場合にのみ
// 残留する。古いpendingを削除することで、ユニーク制約が押さえていた
// 当日分のスロットが解放される。
type CleanupJob struct {
	executor          Executor
	logger            *slog.Logger
	StalePendingHours int // pendingレコードを残留とみなすまでの時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの残留判定時間は24時間。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		executor:          db,
		logger:            logger,
		StalePendingHours: 24,
	}
}

// Run は期限切れセッションと残留pendingレコードを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessionCount, err := j.execDelete(ctx,
		`DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	interval := fmt.Sprintf("%d hours", j.StalePendingHours)

	signCount, err := j.execDelete(ctx,
		`DELETE FROM sign_records WHERE status = 'pending' AND created_at < now() - $1::interval`,
		interval)
	if err != nil {
		return fmt.Errorf("残留サインインレコードの削除に失敗: %w", err)
	}

	lotteryCount, err := j.execDelete(ctx,
		`DELETE FROM lottery_records WHERE status = 'pending' AND created_at < now() - $1::interval`,
		interval)
	if err != nil {
		return fmt.Errorf("残留抽選レコードの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessionCount),
		slog.Int64("deleted_pending_signs", signCount),
		slog.Int64("deleted_pending_lotteries", lotteryCount),
		slog.Int("stale_pending_hours", j.StalePendingHours),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// execDelete はDELETE文を実行し、削除件数を返す。
func (j *CleanupJob) execDelete(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := j.executor.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップクエリの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("query", query),
		)
		return 0, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	return count, nil
}
