// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
)

// ErrDuplicateUser は同じ外部IDのユーザーがすでに存在することを示す。
// 初回ログインの同時実行で起こりうるため、呼び出し側は既存ユーザーを
// 再取得して続行できる。
var ErrDuplicateUser = errors.New("user with the same external ID already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID は外部IdPユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Create はユーザーを作成する。external_idのユニーク制約に違反した場合は
	// ErrDuplicateUserを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateDisplayName は表示名を更新する。
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// SignRecordRepository はサインイン記録の永続化インターフェース。
type SignRecordRepository interface {
	// FindByUserAndDate は指定日の記録を取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID string, day time.Time) (*model.SignRecord, error)

	// InsertPending は指定日のpending記録を挿入する。
	// 同日の記録がすでに存在する場合（ユニーク制約違反を含む）はnilを返す。
	InsertPending(ctx context.Context, userID string, reward int, day time.Time) (*model.SignRecord, error)

	// UpdateStatus は記録の状態を更新する。
	UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error

	// Delete は記録を削除する（ロールバック用の終端遷移）。
	Delete(ctx context.Context, id int64) error

	// RecentHistory は新しい順にcompletedの記録を最大limit件返す。
	RecentHistory(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error)
}

// LotteryRecordRepository は抽選記録の永続化インターフェース。
type LotteryRecordRepository interface {
	// TodaySummary は指定日の試行回数と最新記録を返す。記録がない場合は(0, nil)。
	TodaySummary(ctx context.Context, userID string, day time.Time) (int, *model.LotteryRecord, error)

	// InsertPending はattempt_number = 当日最大値+1 のpending記録を挿入する。
	// 当日の既存件数がmaxAttempts以上の場合、またはユニーク制約違反の場合はnilを返す。
	InsertPending(ctx context.Context, userID string, prize int, label string, cost int, day time.Time, maxAttempts int) (*model.LotteryRecord, error)

	// UpdateStatus は記録の状態を更新する。
	UpdateStatus(ctx context.Context, id int64, status model.RecordStatus) error

	// Delete は記録を削除する（ロールバック用の終端遷移）。
	Delete(ctx context.Context, id int64) error

	// RecentHistory は新しい順にcompletedの記録を最大limit件返す。
	RecentHistory(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error)

	// TodayLeaderboard は指定日のcompleted集計を純増降順・当選総額降順で最大limit件返す。
	TodayLeaderboard(ctx context.Context, day time.Time, limit int) ([]*model.LeaderboardEntry, error)

	// TodayTotalsForUser は指定日のユーザー別completed集計を返す。記録がなくてもゼロ値を返す。
	TodayTotalsForUser(ctx context.Context, userID string, day time.Time) (*model.DailyTotals, error)
}

// AttemptPurchaseRepository は追加抽選回数購入の永続化インターフェース。
type AttemptPurchaseRepository interface {
	// CountByUserAndDate は指定日の購入済み回数を返す。
	CountByUserAndDate(ctx context.Context, userID string, day time.Time) (int, error)

	// InsertAtomic は同一トランザクション内で当日件数を確認しつつcount行を挿入する。
	// 挿入後の合計がlimitを超える場合は何も挿入せずnilを返す。
	InsertAtomic(ctx context.Context, userID string, day time.Time, cost, count, limit int) ([]*model.AttemptPurchase, error)

	// Delete は購入記録を削除する（ロールバック用）。
	Delete(ctx context.Context, id int64) error
}
