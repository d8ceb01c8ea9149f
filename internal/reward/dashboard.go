package reward

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/policy"
)

// SignStatus はダッシュボードのサインイン欄。
type SignStatus struct {
	TodaySigned bool                `json:"today_signed"`
	TodayReward *int                `json:"today_reward"`
	History     []*model.SignRecord `json:"history"`
}

// LotteryStatus はダッシュボードの抽選欄。
type LotteryStatus struct {
	RemainingAttempts  int                    `json:"remaining_attempts"`
	History            []*model.LotteryRecord `json:"history"`
	LastRecord         *model.LotteryRecord   `json:"last_record"`
	Cost               int                    `json:"cost"`
	MaxAttempts        int                    `json:"max_attempts"`
	BaseAttempts       int                    `json:"base_attempts"`
	ExtraPurchased     int                    `json:"extra_purchased"`
	ExtraPurchaseLimit int                    `json:"extra_purchase_limit"`
	ExtraPurchaseCost  int                    `json:"extra_purchase_cost"`
	CanPurchaseExtra   bool                   `json:"can_purchase_extra"`
}

// DashboardData はダッシュボード表示用のスナップショット。
type DashboardData struct {
	Balance         float64                  `json:"balance"`
	Sign            SignStatus               `json:"sign"`
	Lottery         LotteryStatus            `json:"lottery"`
	Leaderboard     []*model.LeaderboardEntry `json:"leaderboard"`
	PersonalSummary *model.DailyTotals       `json:"leaderboard_self"`
}

// Dashboard はダッシュボード表示に必要な情報をまとめて取得する。
// プロファイル解決の失敗は残高0の表示に縮退させ、エラーにはしない。
func (s *Service) Dashboard(ctx context.Context, user *model.User) (*DashboardData, error) {
	spins, lastLottery, err := s.ledger.TodayLotterySummary(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("抽選状況の取得に失敗しました: %w", err)
	}
	purchased, err := s.ledger.TodayPurchaseCount(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("購入状況の取得に失敗しました: %w", err)
	}

	lotteryHistory, err := s.ledger.LotteryHistory(ctx, user.ID, lotteryHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("抽選履歴の取得に失敗しました: %w", err)
	}

	signToday, err := s.ledger.TodaySign(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("サインイン状況の取得に失敗しました: %w", err)
	}
	signHistory, err := s.ledger.SignHistory(ctx, user.ID, signHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("サインイン履歴の取得に失敗しました: %w", err)
	}

	leaderboard, err := s.ledger.TodayLeaderboard(ctx, leaderboardLimit)
	if err != nil {
		return nil, fmt.Errorf("ランキングの取得に失敗しました: %w", err)
	}

	personal, err := s.ledger.TodayTotalsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("個人集計の取得に失敗しました: %w", err)
	}

	// 残高はベストエフォートで取得し、失敗しても画面表示は継続する
	balance := 0.0
	profile, err := s.ResolveProfile(ctx, user, false)
	if err != nil {
		s.logger.Warn("ダッシュボード用のプロファイル解決に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else if profile != nil {
		balance = s.toDollars(profile.AvailableUnits())
	}

	sign := SignStatus{
		TodaySigned: signToday != nil,
		History:     signHistory,
	}
	if signToday != nil {
		reward := signToday.Reward
		sign.TodayReward = &reward
	}

	maxAttempts := s.opts.MaxDailySpins + purchased

	return &DashboardData{
		Balance: balance,
		Sign:    sign,
		Lottery: LotteryStatus{
			RemainingAttempts:  policy.RemainingAttempts(spins, s.opts.MaxDailySpins, purchased),
			History:            lotteryHistory,
			LastRecord:         lastLottery,
			Cost:               s.opts.LotteryCost,
			MaxAttempts:        maxAttempts,
			BaseAttempts:       s.opts.MaxDailySpins,
			ExtraPurchased:     purchased,
			ExtraPurchaseLimit: s.opts.ExtraPurchaseLimit,
			ExtraPurchaseCost:  s.opts.ExtraPurchaseCost,
			CanPurchaseExtra:   purchased < s.opts.ExtraPurchaseLimit,
		},
		Leaderboard:     leaderboard,
		PersonalSummary: personal,
	}, nil
}
