package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/luckywheel/internal/model"
)

// uniqueViolation はPostgreSQLのunique_violationエラーコード。
const uniqueViolation = pq.ErrorCode("23505")

// isUniqueViolation はユニーク制約違反かどうかを判定する。
// 予約系の挿入では「すでに存在する」という正常系の結果として扱われる。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresSignRepo はPostgreSQLを使用したサインイン記録リポジトリ。
type PostgresSignRepo struct {
	db *sql.DB
}

// NewPostgresSignRepo はPostgresSignRepoを生成する。
func NewPostgresSignRepo(db *sql.DB) *PostgresSignRepo {
	return &PostgresSignRepo{db: db}
}

// FindByUserAndDate は指定日の記録を取得する。見つからない場合はnilを返す。
func (r *PostgresSignRepo) FindByUserAndDate(ctx context.Context, userID string, day time.Time) (*model.SignRecord, error) {
	rec := &model.SignRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, reward, sign_date, status, created_at
		 FROM sign_records
		 WHERE user_id = $1 AND sign_date = $2`,
		userID, day,
	).Scan(&rec.ID, &rec.UserID, &rec.Reward, &rec.SignDate, &rec.Status, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sign record: %w", err)
	}

	return rec, nil
}

// InsertPending は指定日のpending記録を挿入する。
// ユニーク制約(user_id, sign_date)に違反した場合は重複サインインとしてnilを返す。
func (r *PostgresSignRepo) InsertPending(ctx context.Context, userID string, reward int, day time.Time) (*model.SignRecord, error) {
	rec := &model.SignRecord{
		UserID:   userID,
		Reward:   reward,
		SignDate: day,
		Status:   model.StatusPending,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sign_records (user_id, reward, sign_date, status)
		 VALUES ($1, $2, $3, 'pending')
		 RETURNING id, created_at`,
		userID, reward, day,
	).Scan(&rec.ID, &rec.CreatedAt)

	if isUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert sign record: %w", err)
	}

	return rec, nil
}

// UpdateStatus は記録の状態を更新する。
func (r *PostgresSignRepo) UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sign_records SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update sign record status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("sign record not found: %d", id)
	}
	return nil
}

// Delete は記録を削除する。リモート反映失敗時の補償ロールバックに使用される。
func (r *PostgresSignRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sign_records WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete sign record: %w", err)
	}
	return nil
}

// RecentHistory は新しい順にcompletedの記録を最大limit件返す。
func (r *PostgresSignRepo) RecentHistory(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, reward, sign_date, status, created_at
		 FROM sign_records
		 WHERE user_id = $1 AND status = 'completed'
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign history: %w", err)
	}
	defer rows.Close()

	var records []*model.SignRecord
	for rows.Next() {
		rec := &model.SignRecord{}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Reward, &rec.SignDate, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sign record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sign records: %w", err)
	}

	return records, nil
}

// compile-time interface check
var _ SignRecordRepository = (*PostgresSignRepo)(nil)
