package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
)

// PostgresLotteryRepo はPostgreSQLを使用した抽選記録リポジトリ。
type PostgresLotteryRepo struct {
	db *sql.DB
}

// NewPostgresLotteryRepo はPostgresLotteryRepoを生成する。
func NewPostgresLotteryRepo(db *sql.DB) *PostgresLotteryRepo {
	return &PostgresLotteryRepo{db: db}
}

// TodaySummary は指定日の試行回数と最新記録を返す。記録がない場合は(0, nil)。
func (r *PostgresLotteryRepo) TodaySummary(ctx context.Context, userID string, day time.Time) (int, *model.LotteryRecord, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lottery_records WHERE user_id = $1 AND spin_date = $2`,
		userID, day,
	).Scan(&count)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count lottery records: %w", err)
	}

	if count == 0 {
		return 0, nil, nil
	}

	rec := &model.LotteryRecord{}
	err = r.db.QueryRowContext(ctx,
		`SELECT id, user_id, prize, redemption_label, spin_date, status, attempt_number, cost, created_at
		 FROM lottery_records
		 WHERE user_id = $1 AND spin_date = $2
		 ORDER BY attempt_number DESC, created_at DESC
		 LIMIT 1`,
		userID, day,
	).Scan(&rec.ID, &rec.UserID, &rec.Prize, &rec.RedemptionLabel, &rec.SpinDate,
		&rec.Status, &rec.AttemptNumber, &rec.Cost, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return count, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to find latest lottery record: %w", err)
	}

	return count, rec, nil
}

// InsertPending はattempt_number = 当日最大値+1 のpending記録を挿入する。
// 当日の既存件数がmaxAttempts以上の場合はnilを返す。
// 同時リクエストが同じattempt_numberを採番した場合は
// (user_id, spin_date, attempt_number)のユニーク制約違反となり、
// 負け側は上限超過と同様にnilを受け取る。
func (r *PostgresLotteryRepo) InsertPending(ctx context.Context, userID string, prize int, label string, cost int, day time.Time, maxAttempts int) (*model.LotteryRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count, maxAttempt int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(attempt_number), 0)
		 FROM lottery_records
		 WHERE user_id = $1 AND spin_date = $2`,
		userID, day,
	).Scan(&count, &maxAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to count lottery attempts: %w", err)
	}

	if count >= maxAttempts {
		return nil, nil
	}

	rec := &model.LotteryRecord{
		UserID:          userID,
		Prize:           prize,
		RedemptionLabel: label,
		SpinDate:        day,
		Status:          model.StatusPending,
		AttemptNumber:   maxAttempt + 1,
		Cost:            cost,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO lottery_records (user_id, prize, redemption_label, spin_date, status, attempt_number, cost)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		 RETURNING id, created_at`,
		userID, prize, label, day, rec.AttemptNumber, cost,
	).Scan(&rec.ID, &rec.CreatedAt)
	if isUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert lottery record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to commit lottery record: %w", err)
	}

	return rec, nil
}

// UpdateStatus は記録の状態を更新する。
func (r *PostgresLotteryRepo) UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE lottery_records SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update lottery record status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("lottery record not found: %d", id)
	}
	return nil
}

// Delete は記録を削除する。リモート反映失敗時の補償ロールバックに使用される。
func (r *PostgresLotteryRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM lottery_records WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete lottery record: %w", err)
	}
	return nil
}

// RecentHistory は新しい順にcompletedの記録を最大limit件返す。
func (r *PostgresLotteryRepo) RecentHistory(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, prize, redemption_label, spin_date, status, attempt_number, cost, created_at
		 FROM lottery_records
		 WHERE user_id = $1 AND status = 'completed'
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list lottery history: %w", err)
	}
	defer rows.Close()

	var records []*model.LotteryRecord
	for rows.Next() {
		rec := &model.LotteryRecord{}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Prize, &rec.RedemptionLabel, &rec.SpinDate,
			&rec.Status, &rec.AttemptNumber, &rec.Cost, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lottery record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lottery records: %w", err)
	}

	return records, nil
}

// TodayLeaderboard は指定日のcompleted集計を純増降順・当選総額降順で最大limit件返す。
func (r *PostgresLotteryRepo) TodayLeaderboard(ctx context.Context, day time.Time, limit int) ([]*model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
		     u.id,
		     u.display_name,
		     COALESCE(SUM(l.prize), 0) AS total_prize,
		     COALESCE(SUM(l.cost), 0) AS total_cost,
		     COALESCE(SUM(l.prize - l.cost), 0) AS net_change,
		     COUNT(l.id) AS attempts
		 FROM lottery_records l
		 JOIN users u ON u.id = l.user_id
		 WHERE l.spin_date = $1 AND l.status = 'completed'
		 GROUP BY u.id, u.display_name
		 ORDER BY net_change DESC, total_prize DESC
		 LIMIT $2`,
		day, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		e := &model.LeaderboardEntry{}
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalPrize, &e.TotalCost, &e.NetChange, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard entries: %w", err)
	}

	return entries, nil
}

// TodayTotalsForUser は指定日のユーザー別completed集計を返す。記録がなくてもゼロ値を返す。
func (r *PostgresLotteryRepo) TodayTotalsForUser(ctx context.Context, userID string, day time.Time) (*model.DailyTotals, error) {
	totals := &model.DailyTotals{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(prize), 0),
		     COALESCE(SUM(cost), 0),
		     COALESCE(SUM(prize - cost), 0),
		     COUNT(id)
		 FROM lottery_records
		 WHERE user_id = $1 AND spin_date = $2 AND status = 'completed'`,
		userID, day,
	).Scan(&totals.TotalPrize, &totals.TotalCost, &totals.NetChange, &totals.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}

	return totals, nil
}

// compile-time interface check
var _ LotteryRecordRepository = (*PostgresLotteryRepo)(nil)
