// Package ledger はローカル台帳ストアを提供する。
// すべての予約系操作をプロセス内の単一ロックで直列化し、
// ストレージ層のユニーク制約と二重のガードで日次上限を守る。
// ロックは競合時の無駄なDB往復を避けるための最適化であり、
// 正しさの最終保証は制約側にある（複数プロセス配備でも破綻しない）。
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/repository"
)

// Store はサインイン・抽選・追加回数購入の台帳操作をまとめたストア。
type Store struct {
	mu        sync.Mutex // 予約系操作を直列化する粗粒度ロック
	signs     repository.SignRecordRepository
	lotteries repository.LotteryRecordRepository
	purchases repository.AttemptPurchaseRepository
	now       func() time.Time // テスト用に差し替え可能
}

// NewStore はStoreを生成する。
func NewStore(
	signs repository.SignRecordRepository,
	lotteries repository.LotteryRecordRepository,
	purchases repository.AttemptPurchaseRepository,
) *Store {
	return &Store{
		signs:     signs,
		lotteries: lotteries,
		purchases: purchases,
		now:       time.Now,
	}
}

// Today は当日の暦日（時刻切り捨て）を返す。
func (s *Store) Today() time.Time {
	t := s.now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TodaySign は当日のサインイン記録を返す。未サインインの場合はnil。
func (s *Store) TodaySign(ctx context.Context, userID string) (*model.SignRecord, error) {
	return s.signs.FindByUserAndDate(ctx, userID, s.Today())
}

// ReserveSign は当日のサインイン記録をpendingで予約する。
// すでに当日の記録が存在する場合はnilを返す。
func (s *Store) ReserveSign(ctx context.Context, userID string, reward int) (*model.SignRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signs.InsertPending(ctx, userID, reward, s.Today())
}

// CompleteSign はサインイン記録をcompletedに遷移させる。
func (s *Store) CompleteSign(ctx context.Context, id int64) error {
	return s.signs.UpdateStatus(ctx, id, model.StatusCompleted)
}

// DeleteSign は予約済みのサインイン記録を削除する（ロールバック）。
func (s *Store) DeleteSign(ctx context.Context, id int64) error {
	return s.signs.Delete(ctx, id)
}

// SignHistory は新しい順にcompletedのサインイン記録を最大limit件返す。
func (s *Store) SignHistory(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error) {
	return s.signs.RecentHistory(ctx, userID, limit)
}

// TodayLotterySummary は当日の試行回数と最新の抽選記録を返す。
func (s *Store) TodayLotterySummary(ctx context.Context, userID string) (int, *model.LotteryRecord, error) {
	return s.lotteries.TodaySummary(ctx, userID, s.Today())
}

// ReserveLottery は当日の抽選記録をpendingで予約する。
// attempt_numberはロック下で厳密に連番採番される。
// 当日の試行回数がmaxAttemptsに達している場合はnilを返す。
func (s *Store) ReserveLottery(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lotteries.InsertPending(ctx, userID, prize, label, cost, s.Today(), maxAttempts)
}

// CompleteLottery は抽選記録をcompletedに遷移させる。
func (s *Store) CompleteLottery(ctx context.Context, id int64) error {
	return s.lotteries.UpdateStatus(ctx, id, model.StatusCompleted)
}

// DeleteLottery は予約済みの抽選記録を削除する（ロールバック）。
func (s *Store) DeleteLottery(ctx context.Context, id int64) error {
	return s.lotteries.Delete(ctx, id)
}

// LotteryHistory は新しい順にcompletedの抽選記録を最大limit件返す。
func (s *Store) LotteryHistory(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error) {
	return s.lotteries.RecentHistory(ctx, userID, limit)
}

// TodayLeaderboard は当日のcompleted集計ランキングを最大limit件返す。
func (s *Store) TodayLeaderboard(ctx context.Context, limit int) ([]*model.LeaderboardEntry, error) {
	return s.lotteries.TodayLeaderboard(ctx, s.Today(), limit)
}

// TodayTotalsForUser は当日のユーザー別completed集計を返す。
func (s *Store) TodayTotalsForUser(ctx context.Context, userID string) (*model.DailyTotals, error) {
	return s.lotteries.TodayTotalsForUser(ctx, userID, s.Today())
}

// TodayPurchaseCount は当日の追加回数購入数を返す。
func (s *Store) TodayPurchaseCount(ctx context.Context, userID string) (int, error) {
	return s.purchases.CountByUserAndDate(ctx, userID, s.Today())
}

// ReservePurchases は当日の追加回数購入をcount件まとめて予約する。
// 合計がlimitを超える場合は何も挿入せずnilを返す。
func (s *Store) ReservePurchases(ctx context.Context, userID string, cost, count, limit int) ([]*model.AttemptPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchases.InsertAtomic(ctx, userID, s.Today(), cost, count, limit)
}

// DeletePurchase は購入記録を削除する（ロールバック）。
func (s *Store) DeletePurchase(ctx context.Context, id int64) error {
	return s.purchases.Delete(ctx, id)
}
