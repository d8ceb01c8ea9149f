package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
)

// PostgresPurchaseRepo はPostgreSQLを使用した追加抽選回数購入リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// CountByUserAndDate は指定日の購入済み回数を返す。
func (r *PostgresPurchaseRepo) CountByUserAndDate(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempt_purchases WHERE user_id = $1 AND purchase_date = $2`,
		userID, day,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt purchases: %w", err)
	}
	return count, nil
}

// InsertAtomic は同一トランザクション内で当日件数を確認しつつcount行を挿入する。
// 挿入後の合計がlimitを超える場合は何も挿入せずnilを返す。
func (r *PostgresPurchaseRepo) InsertAtomic(ctx context.Context, userID string, day time.Time, cost, count, limit int) ([]*model.AttemptPurchase, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempt_purchases WHERE user_id = $1 AND purchase_date = $2`,
		userID, day,
	).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempt purchases: %w", err)
	}

	if existing+count > limit {
		return nil, nil
	}

	purchases := make([]*model.AttemptPurchase, 0, count)
	for i := 0; i < count; i++ {
		p := &model.AttemptPurchase{
			UserID:       userID,
			PurchaseDate: day,
			Cost:         cost,
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO attempt_purchases (user_id, purchase_date, cost)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at`,
			userID, day, cost,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert attempt purchase: %w", err)
		}
		purchases = append(purchases, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit attempt purchases: %w", err)
	}

	return purchases, nil
}

// Delete は購入記録を削除する。リモート反映失敗時のロールバックに使用される。
func (r *PostgresPurchaseRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM attempt_purchases WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete attempt purchase: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AttemptPurchaseRepository = (*PostgresPurchaseRepo)(nil)
