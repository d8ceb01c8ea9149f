// Package reward はサインイン報酬と抽選のオーケストレーターを提供する。
// ローカル台帳の予約とDoneHubへの残高反映を順序付け、
// 途中で失敗した場合は予約削除と補償で整合性を回復する。
package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/policy"
)

// Ledger はローカル台帳ストアの契約。
type Ledger interface {
	TodaySign(ctx context.Context, userID string) (*model.SignRecord, error)
	ReserveSign(ctx context.Context, userID string, reward int) (*model.SignRecord, error)
	CompleteSign(ctx context.Context, id int64) error
	DeleteSign(ctx context.Context, id int64) error
	SignHistory(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error)

	TodayLotterySummary(ctx context.Context, userID string) (int, *model.LotteryRecord, error)
	ReserveLottery(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error)
	CompleteLottery(ctx context.Context, id int64) error
	DeleteLottery(ctx context.Context, id int64) error
	LotteryHistory(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error)
	TodayLeaderboard(ctx context.Context, limit int) ([]*model.LeaderboardEntry, error)
	TodayTotalsForUser(ctx context.Context, userID string) (*model.DailyTotals, error)

	TodayPurchaseCount(ctx context.Context, userID string) (int, error)
	ReservePurchases(ctx context.Context, userID string, cost, count, limit int) ([]*model.AttemptPurchase, error)
	DeletePurchase(ctx context.Context, id int64) error
}

// QuotaClient はDoneHub APIクライアントの契約。
type QuotaClient interface {
	GetUserByID(ctx context.Context, id int64) (*model.QuotaProfile, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.QuotaProfile, error)
	GetUserByUsername(ctx context.Context, username string) (*model.QuotaProfile, error)
	AdjustQuota(ctx context.Context, userID int64, deltaUnits int64, remark string) error
}

// ProfileCache はプロファイルキャッシュの契約。
type ProfileCache interface {
	Get(userID, externalID string) *model.QuotaProfile
	GetStale(userID, externalID string) (*model.QuotaProfile, time.Duration)
	Put(userID string, profile *model.QuotaProfile)
}

// Metrics はオーケストレーターが記録する計測値の契約。
type Metrics interface {
	RecordSign(outcome string)
	RecordSpin(outcome string)
	RecordPurchase(outcome string)
	RecordRemoteFailure(operation string)
	RecordCompensationFailure()
	ObserveRemoteDuration(operation string, seconds float64)
}

// 計測用のアウトカムラベル。
const (
	OutcomeSuccess            = "success"
	OutcomeAlreadySigned      = "already_signed"
	OutcomeLimitReached       = "limit_reached"
	OutcomeInsufficientFunds  = "insufficient_funds"
	OutcomeLookupFailed       = "lookup_failed"
	OutcomeRemoteFailed       = "remote_failed"
	OutcomeCompensationFailed = "compensation_failed"
	OutcomeStorageFailed      = "storage_failed"
	OutcomeSyncUnconfirmed    = "sync_unconfirmed"
)

const (
	// creditVerifyRetries はサインイン入金確認の再取得回数。
	creditVerifyRetries = 3
	// creditVerifyInterval は入金確認の再取得間隔。
	creditVerifyInterval = 300 * time.Millisecond

	signHistoryLimit    = 7
	lotteryHistoryLimit = 10
	leaderboardLimit    = 10
)

// Options はオーケストレーターの設定値。
type Options struct {
	CurrencyUnit       int64
	LotteryCost        int
	MaxDailySpins      int
	ExtraPurchaseCost  int
	ExtraPurchaseLimit int
}

// Service は報酬操作のオーケストレーター。
type Service struct {
	ledger  Ledger
	quota   QuotaClient
	cache   ProfileCache
	drawer  *policy.Drawer
	metrics Metrics
	logger  *slog.Logger
	opts    Options
	sleep   func(time.Duration) // テスト用に差し替え可能
}

// NewService はServiceを生成する。
func NewService(ledger Ledger, quota QuotaClient, cache ProfileCache, drawer *policy.Drawer, metrics Metrics, logger *slog.Logger, opts Options) *Service {
	return &Service{
		ledger:  ledger,
		quota:   quota,
		cache:   cache,
		drawer:  drawer,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		sleep:   time.Sleep,
	}
}

// SignResult はサインイン成功時の結果。
type SignResult struct {
	Reward     int                 `json:"reward"`
	NewBalance float64             `json:"current_balance"`
	History    []*model.SignRecord `json:"sign_history"`
}

// LotteryResult は抽選成功時の結果。
type LotteryResult struct {
	Prize             int                    `json:"prize"`
	Cost              int                    `json:"cost"`
	AttemptNumber     int                    `json:"attempt_number"`
	RemainingAttempts int                    `json:"remaining_attempts"`
	RedemptionLabel   string                 `json:"redemption_label"`
	NetChange         int                    `json:"net_change"`
	NewBalance        float64                `json:"current_balance"`
	History           []*model.LotteryRecord `json:"lottery_history"`
}

// PurchaseResult は追加回数購入成功時の結果。
type PurchaseResult struct {
	Quantity   int     `json:"quantity"`
	NewBalance float64 `json:"current_balance"`
}

// toDollars は内部単位を通貨表示額（小数2桁）に変換する。
func (s *Service) toDollars(units int64) float64 {
	return math.Round(float64(units)/float64(s.opts.CurrencyUnit)*100) / 100
}

// adjustQuota はリモート残高を増減し、呼び出し時間と失敗を計測する。
func (s *Service) adjustQuota(ctx context.Context, profileID, deltaUnits int64, remark string) error {
	start := time.Now()
	err := s.quota.AdjustQuota(ctx, profileID, deltaUnits, remark)
	s.metrics.ObserveRemoteDuration("adjust_quota", time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordRemoteFailure("adjust_quota")
	}
	return err
}

// ResolveProfile はユーザーに対応するDoneHubプロファイルを解決する。
// forceRefreshが偽の場合はキャッシュを優先し、ヒット時も
// IDによる軽量な再取得で残高の変化を拾う。再取得に失敗した場合は
// キャッシュ済みの値にフォールバックし、経過時間をログに残す。
func (s *Service) ResolveProfile(ctx context.Context, user *model.User, forceRefresh bool) (*model.QuotaProfile, error) {
	if !forceRefresh {
		if cached := s.cache.Get(user.ID, user.ExternalID); cached != nil {
			fresh, err := s.quota.GetUserByID(ctx, cached.ID)
			if err != nil || fresh == nil {
				stale, age := s.cache.GetStale(user.ID, user.ExternalID)
				s.logger.Warn("プロファイル再取得に失敗したためキャッシュ値を使用します",
					slog.String("user_id", user.ID),
					slog.Duration("snapshot_age", age),
				)
				return stale, nil
			}
			s.cache.Put(user.ID, fresh)
			return fresh, nil
		}
	}

	profile, err := s.quota.GetUserByExternalID(ctx, user.ExternalID)
	if err != nil {
		return nil, model.NewUserLookupFailedError(err.Error())
	}
	if profile == nil {
		profile, err = s.quota.GetUserByUsername(ctx, user.DisplayName)
		if err != nil {
			return nil, model.NewUserLookupFailedError(err.Error())
		}
	}
	if profile == nil {
		return nil, model.NewUserNotBoundError()
	}

	s.cache.Put(user.ID, profile)
	return profile, nil
}

// PerformSignIn はデイリーサインインを実行する。
// ローカル予約 → リモート入金 → 確定 → 入金確認の順に進み、
// 入金に失敗した場合は予約を削除してサインインが無かった状態に戻す。
// 入金後の確認が取れない場合は取り消さず、期待残高で応答する。
func (s *Service) PerformSignIn(ctx context.Context, user *model.User) (*SignResult, error) {
	profile, err := s.ResolveProfile(ctx, user, true)
	if err != nil {
		s.metrics.RecordSign(OutcomeLookupFailed)
		return nil, err
	}

	reward := s.drawer.SignReward()

	rec, err := s.ledger.ReserveSign(ctx, user.ID, reward)
	if err != nil {
		s.metrics.RecordSign(OutcomeStorageFailed)
		return nil, fmt.Errorf("サインイン予約に失敗しました: %w", err)
	}
	if rec == nil {
		s.metrics.RecordSign(OutcomeAlreadySigned)
		return nil, model.NewAlreadySignedError()
	}

	initialUnits := profile.Quota
	rewardUnits := int64(reward) * s.opts.CurrencyUnit
	remark := fmt.Sprintf("サインイン報酬 %d$", reward)

	if err := s.adjustQuota(ctx, profile.ID, rewardUnits, remark); err != nil {
		s.rollbackSign(ctx, rec.ID, user.ID)
		s.metrics.RecordSign(OutcomeRemoteFailed)
		return nil, model.NewRemoteMutationFailedError(err.Error())
	}

	if err := s.ledger.CompleteSign(ctx, rec.ID); err != nil {
		s.metrics.RecordSign(OutcomeStorageFailed)
		return nil, fmt.Errorf("サインイン記録の確定に失敗しました: %w", err)
	}

	// 入金がリモート側で観測できるまで短い間隔で再取得する。
	// 観測できない場合も入金自体は成功しているため取り消さず、
	// ローカルで加算した期待残高にフォールバックする（概算値）。
	balanceUnits := initialUnits + rewardUnits - profile.UsedQuota
	if verified := s.verifyCreditApplied(ctx, profile.ID, initialUnits+rewardUnits); verified != nil {
		s.cache.Put(user.ID, verified)
		balanceUnits = verified.AvailableUnits()
		s.metrics.RecordSign(OutcomeSuccess)
	} else {
		s.logger.Warn("入金の反映を確認できなかったため期待残高を返します",
			slog.String("user_id", user.ID),
			slog.Int64("profile_id", profile.ID),
			slog.Int64("expected_units", initialUnits+rewardUnits),
		)
		s.metrics.RecordSign(OutcomeSyncUnconfirmed)
	}

	history, err := s.ledger.SignHistory(ctx, user.ID, signHistoryLimit)
	if err != nil {
		s.logger.Warn("サインイン履歴の取得に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return &SignResult{
		Reward:     reward,
		NewBalance: s.toDollars(balanceUnits),
		History:    history,
	}, nil
}

// verifyCreditApplied は入金後のクォータが期待値に達するまで再取得する。
// 確認できた場合は最新プロファイルを、できなかった場合はnilを返す。
func (s *Service) verifyCreditApplied(ctx context.Context, profileID, expectedUnits int64) *model.QuotaProfile {
	for i := 0; i < creditVerifyRetries; i++ {
		latest, err := s.quota.GetUserByID(ctx, profileID)
		if err == nil && latest != nil && latest.Quota >= expectedUnits {
			return latest
		}
		s.sleep(creditVerifyInterval)
	}
	return nil
}

// rollbackSign はサインイン予約を削除する。削除失敗は警告ログに留める。
func (s *Service) rollbackSign(ctx context.Context, recordID int64, userID string) {
	if err := s.ledger.DeleteSign(ctx, recordID); err != nil {
		s.logger.Warn("サインイン予約の削除に失敗しました",
			slog.String("user_id", userID),
			slog.Int64("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
}

// PerformLotterySpin は抽選を1回実行する。
// コスト控除と賞金入金の2段階でリモートを更新し、
// 賞金入金に失敗した場合はコストの補償（同額の正の増分）を試みる。
func (s *Service) PerformLotterySpin(ctx context.Context, user *model.User) (*LotteryResult, error) {
	spins, _, err := s.ledger.TodayLotterySummary(ctx, user.ID)
	if err != nil {
		s.metrics.RecordSpin(OutcomeStorageFailed)
		return nil, fmt.Errorf("抽選状況の取得に失敗しました: %w", err)
	}
	purchased, err := s.ledger.TodayPurchaseCount(ctx, user.ID)
	if err != nil {
		s.metrics.RecordSpin(OutcomeStorageFailed)
		return nil, fmt.Errorf("購入状況の取得に失敗しました: %w", err)
	}

	if policy.RemainingAttempts(spins, s.opts.MaxDailySpins, purchased) <= 0 {
		s.metrics.RecordSpin(OutcomeLimitReached)
		return nil, model.NewDailyLimitReachedError()
	}

	profile, err := s.ResolveProfile(ctx, user, false)
	if err != nil {
		s.metrics.RecordSpin(OutcomeLookupFailed)
		return nil, err
	}

	costUnits := int64(s.opts.LotteryCost) * s.opts.CurrencyUnit
	if !policy.HasSufficientBalance(profile.AvailableUnits(), int(costUnits)) {
		s.metrics.RecordSpin(OutcomeInsufficientFunds)
		return nil, model.NewInsufficientFundsError()
	}

	prize := s.drawer.LotteryPrize()
	label := policy.RedemptionLabel(prize)
	maxAttempts := s.opts.MaxDailySpins + purchased

	rec, err := s.ledger.ReserveLottery(ctx, user.ID, prize, label, s.opts.LotteryCost, maxAttempts)
	if err != nil {
		s.metrics.RecordSpin(OutcomeStorageFailed)
		return nil, fmt.Errorf("抽選予約に失敗しました: %w", err)
	}
	if rec == nil {
		// 同時リクエストに予約を奪われた場合も上限到達として扱う
		s.metrics.RecordSpin(OutcomeLimitReached)
		return nil, model.NewDailyLimitReachedError()
	}

	prizeUnits := int64(prize) * s.opts.CurrencyUnit

	if err := s.adjustQuota(ctx, profile.ID, -costUnits, fmt.Sprintf("抽選コスト %d$", s.opts.LotteryCost)); err != nil {
		s.rollbackLottery(ctx, rec.ID, user.ID)
		s.metrics.RecordSpin(OutcomeRemoteFailed)
		return nil, model.NewRemoteMutationFailedError(err.Error())
	}

	if err := s.adjustQuota(ctx, profile.ID, prizeUnits, fmt.Sprintf("抽選賞金 %d$", prize)); err != nil {
		// コスト控除は成功しているため、同額の正の増分で打ち消す。
		// 補償自体が失敗した場合は残高が不整合のまま残るため、
		// 運用者向けに高い重大度で記録して専用のエラーを返す。
		compErr := s.adjustQuota(ctx, profile.ID, costUnits, "抽選失敗の補償")
		s.rollbackLottery(ctx, rec.ID, user.ID)
		if compErr != nil {
			s.logger.Error("抽選コストの補償に失敗しました。残高の手動確認が必要です",
				slog.String("user_id", user.ID),
				slog.Int64("profile_id", profile.ID),
				slog.Int64("record_id", rec.ID),
				slog.Int64("cost_units", costUnits),
				slog.String("prize_error", err.Error()),
				slog.String("compensation_error", compErr.Error()),
			)
			s.metrics.RecordCompensationFailure()
			s.metrics.RecordSpin(OutcomeCompensationFailed)
			return nil, model.NewCompensationFailedError(compErr.Error())
		}
		s.metrics.RecordSpin(OutcomeRemoteFailed)
		return nil, model.NewRemoteMutationFailedError(err.Error())
	}

	if err := s.ledger.CompleteLottery(ctx, rec.ID); err != nil {
		s.metrics.RecordSpin(OutcomeStorageFailed)
		return nil, fmt.Errorf("抽選記録の確定に失敗しました: %w", err)
	}
	s.metrics.RecordSpin(OutcomeSuccess)

	balance := s.refreshBalanceAfterSpin(ctx, user, profile, prizeUnits-costUnits)

	history, err := s.ledger.LotteryHistory(ctx, user.ID, lotteryHistoryLimit)
	if err != nil {
		s.logger.Warn("抽選履歴の取得に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return &LotteryResult{
		Prize:             prize,
		Cost:              s.opts.LotteryCost,
		AttemptNumber:     rec.AttemptNumber,
		RemainingAttempts: policy.RemainingAttempts(rec.AttemptNumber, s.opts.MaxDailySpins, purchased),
		RedemptionLabel:   label,
		NetChange:         prize - s.opts.LotteryCost,
		NewBalance:        balance,
		History:           history,
	}, nil
}

// rollbackLottery は抽選予約を削除する。削除失敗は警告ログに留める。
func (s *Service) rollbackLottery(ctx context.Context, recordID int64, userID string) {
	if err := s.ledger.DeleteLottery(ctx, recordID); err != nil {
		s.logger.Warn("抽選予約の削除に失敗しました",
			slog.String("user_id", userID),
			slog.Int64("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
}

// refreshBalanceAfterSpin は抽選後の残高を再取得する。
// 再取得に失敗した場合は控除と入金を加味した概算値を返す（厳密値ではない）。
func (s *Service) refreshBalanceAfterSpin(ctx context.Context, user *model.User, profile *model.QuotaProfile, netUnits int64) float64 {
	updated, err := s.quota.GetUserByID(ctx, profile.ID)
	if err == nil && updated != nil {
		s.cache.Put(user.ID, updated)
		return s.toDollars(updated.AvailableUnits())
	}

	s.logger.Warn("抽選後の残高再取得に失敗したため概算値を返します",
		slog.String("user_id", user.ID),
		slog.Int64("profile_id", profile.ID),
	)
	return s.toDollars(profile.AvailableUnits() + netUnits)
}

// PurchaseExtraAttempts は当日の追加抽選回数をquantity回購入する。
// 購入数は1〜日次上限に丸められる。ローカル予約後にコストを
// 一括控除し、控除に失敗した場合は購入記録をすべて削除する。
func (s *Service) PurchaseExtraAttempts(ctx context.Context, user *model.User, quantity int) (*PurchaseResult, error) {
	if quantity < 1 {
		quantity = 1
	}
	if quantity > s.opts.ExtraPurchaseLimit {
		quantity = s.opts.ExtraPurchaseLimit
	}

	purchased, err := s.ledger.TodayPurchaseCount(ctx, user.ID)
	if err != nil {
		s.metrics.RecordPurchase(OutcomeStorageFailed)
		return nil, fmt.Errorf("購入状況の取得に失敗しました: %w", err)
	}
	remaining := s.opts.ExtraPurchaseLimit - purchased
	if remaining <= 0 || quantity > remaining {
		s.metrics.RecordPurchase(OutcomeLimitReached)
		return nil, model.NewPurchaseLimitReachedError(max(0, remaining))
	}

	profile, err := s.ResolveProfile(ctx, user, true)
	if err != nil {
		s.metrics.RecordPurchase(OutcomeLookupFailed)
		return nil, err
	}

	totalUnits := int64(s.opts.ExtraPurchaseCost) * int64(quantity) * s.opts.CurrencyUnit
	if profile.AvailableUnits() < totalUnits {
		s.metrics.RecordPurchase(OutcomeInsufficientFunds)
		return nil, model.NewInsufficientFundsError()
	}

	records, err := s.ledger.ReservePurchases(ctx, user.ID, s.opts.ExtraPurchaseCost, quantity, s.opts.ExtraPurchaseLimit)
	if err != nil {
		s.metrics.RecordPurchase(OutcomeStorageFailed)
		return nil, fmt.Errorf("追加回数の予約に失敗しました: %w", err)
	}
	if records == nil {
		s.metrics.RecordPurchase(OutcomeLimitReached)
		return nil, model.NewPurchaseLimitReachedError(0)
	}

	remark := fmt.Sprintf("抽選回数購入 %d$ × %d", s.opts.ExtraPurchaseCost, quantity)
	if err := s.adjustQuota(ctx, profile.ID, -totalUnits, remark); err != nil {
		for _, rec := range records {
			if delErr := s.ledger.DeletePurchase(ctx, rec.ID); delErr != nil {
				s.logger.Warn("購入記録の削除に失敗しました",
					slog.String("user_id", user.ID),
					slog.Int64("record_id", rec.ID),
					slog.String("error", delErr.Error()),
				)
			}
		}
		s.metrics.RecordPurchase(OutcomeRemoteFailed)
		return nil, model.NewRemoteMutationFailedError(err.Error())
	}
	s.metrics.RecordPurchase(OutcomeSuccess)

	balance := s.toDollars(profile.AvailableUnits() - totalUnits)
	if updated, err := s.quota.GetUserByID(ctx, profile.ID); err == nil && updated != nil {
		s.cache.Put(user.ID, updated)
		balance = s.toDollars(updated.AvailableUnits())
	}

	return &PurchaseResult{
		Quantity:   quantity,
		NewBalance: balance,
	}, nil
}

// AsAPIError はerrが業務エラーであればそれを返す。
func AsAPIError(err error) (*model.APIError, bool) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
