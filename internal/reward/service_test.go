package reward

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/policy"
)

// --- モック ---

type mockLedger struct {
	todaySignFunc          func(ctx context.Context, userID string) (*model.SignRecord, error)
	reserveSignFunc        func(ctx context.Context, userID string, reward int) (*model.SignRecord, error)
	completeSignFunc       func(ctx context.Context, id int64) error
	deleteSignFunc         func(ctx context.Context, id int64) error
	signHistoryFunc        func(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error)
	todayLotteryFunc       func(ctx context.Context, userID string) (int, *model.LotteryRecord, error)
	reserveLotteryFunc     func(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error)
	completeLotteryFunc    func(ctx context.Context, id int64) error
	deleteLotteryFunc      func(ctx context.Context, id int64) error
	lotteryHistoryFunc     func(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error)
	todayLeaderboardFunc   func(ctx context.Context, limit int) ([]*model.LeaderboardEntry, error)
	todayTotalsFunc        func(ctx context.Context, userID string) (*model.DailyTotals, error)
	todayPurchaseCountFunc func(ctx context.Context, userID string) (int, error)
	reservePurchasesFunc   func(ctx context.Context, userID string, cost, count, limit int) ([]*model.AttemptPurchase, error)
	deletePurchaseFunc     func(ctx context.Context, id int64) error

	deletedSignIDs     []int64
	deletedLotteryIDs  []int64
	deletedPurchaseIDs []int64
	completedSignIDs   []int64
	completedSpinIDs   []int64
}

func newMockLedger() *mockLedger {
	m := &mockLedger{}
	m.todaySignFunc = func(ctx context.Context, userID string) (*model.SignRecord, error) { return nil, nil }
	m.reserveSignFunc = func(ctx context.Context, userID string, reward int) (*model.SignRecord, error) {
		return &model.SignRecord{ID: 1, UserID: userID, Reward: reward, Status: model.StatusPending}, nil
	}
	m.completeSignFunc = func(ctx context.Context, id int64) error {
		m.completedSignIDs = append(m.completedSignIDs, id)
		return nil
	}
	m.deleteSignFunc = func(ctx context.Context, id int64) error {
		m.deletedSignIDs = append(m.deletedSignIDs, id)
		return nil
	}
	m.signHistoryFunc = func(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error) {
		return nil, nil
	}
	m.todayLotteryFunc = func(ctx context.Context, userID string) (int, *model.LotteryRecord, error) {
		return 0, nil, nil
	}
	m.reserveLotteryFunc = func(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error) {
		return &model.LotteryRecord{ID: 10, UserID: userID, Prize: prize, RedemptionLabel: label, Cost: cost, AttemptNumber: 1, Status: model.StatusPending}, nil
	}
	m.completeLotteryFunc = func(ctx context.Context, id int64) error {
		m.completedSpinIDs = append(m.completedSpinIDs, id)
		return nil
	}
	m.deleteLotteryFunc = func(ctx context.Context, id int64) error {
		m.deletedLotteryIDs = append(m.deletedLotteryIDs, id)
		return nil
	}
	m.lotteryHistoryFunc = func(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error) {
		return nil, nil
	}
	m.todayLeaderboardFunc = func(ctx context.Context, limit int) ([]*model.LeaderboardEntry, error) {
		return nil, nil
	}
	m.todayTotalsFunc = func(ctx context.Context, userID string) (*model.DailyTotals, error) {
		return &model.DailyTotals{}, nil
	}
	m.todayPurchaseCountFunc = func(ctx context.Context, userID string) (int, error) { return 0, nil }
	m.reservePurchasesFunc = func(ctx context.Context, userID string, cost, count, limit int) ([]*model.AttemptPurchase, error) {
		purchases := make([]*model.AttemptPurchase, count)
		for i := range purchases {
			purchases[i] = &model.AttemptPurchase{ID: int64(100 + i), UserID: userID, Cost: cost}
		}
		return purchases, nil
	}
	m.deletePurchaseFunc = func(ctx context.Context, id int64) error {
		m.deletedPurchaseIDs = append(m.deletedPurchaseIDs, id)
		return nil
	}
	return m
}

func (m *mockLedger) TodaySign(ctx context.Context, userID string) (*model.SignRecord, error) {
	return m.todaySignFunc(ctx, userID)
}
func (m *mockLedger) ReserveSign(ctx context.Context, userID string, reward int) (*model.SignRecord, error) {
	return m.reserveSignFunc(ctx, userID, reward)
}
func (m *mockLedger) CompleteSign(ctx context.Context, id int64) error {
	return m.completeSignFunc(ctx, id)
}
func (m *mockLedger) DeleteSign(ctx context.Context, id int64) error {
	return m.deleteSignFunc(ctx, id)
}
func (m *mockLedger) SignHistory(ctx context.Context, userID string, limit int) ([]*model.SignRecord, error) {
	return m.signHistoryFunc(ctx, userID, limit)
}
func (m *mockLedger) TodayLotterySummary(ctx context.Context, userID string) (int, *model.LotteryRecord, error) {
	return m.todayLotteryFunc(ctx, userID)
}
func (m *mockLedger) ReserveLottery(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error) {
	return m.reserveLotteryFunc(ctx, userID, prize, label, cost, maxAttempts)
}
func (m *mockLedger) CompleteLottery(ctx context.Context, id int64) error {
	return m.completeLotteryFunc(ctx, id)
}
func (m *mockLedger) DeleteLottery(ctx context.Context, id int64) error {
	return m.deleteLotteryFunc(ctx, id)
}
func (m *mockLedger) LotteryHistory(ctx context.Context, userID string, limit int) ([]*model.LotteryRecord, error) {
	return m.lotteryHistoryFunc(ctx, userID, limit)
}
func (m *mockLedger) TodayLeaderboard(ctx context.Context, limit int) ([]*model.LeaderboardEntry, error) {
	return m.todayLeaderboardFunc(ctx, limit)
}
func (m *mockLedger) TodayTotalsForUser(ctx context.Context, userID string) (*model.DailyTotals, error) {
	return m.todayTotalsFunc(ctx, userID)
}
func (m *mockLedger) TodayPurchaseCount(ctx context.Context, userID string) (int, error) {
	return m.todayPurchaseCountFunc(ctx, userID)
}
func (m *mockLedger) ReservePurchases(ctx context.Context, userID string, cost, count, limit int) ([]*model.AttemptPurchase, error) {
	return m.reservePurchasesFunc(ctx, userID, cost, count, limit)
}
func (m *mockLedger) DeletePurchase(ctx context.Context, id int64) error {
	return m.deletePurchaseFunc(ctx, id)
}

type adjustCall struct {
	profileID  int64
	deltaUnits int64
	remark     string
}

type mockQuota struct {
	profile     *model.QuotaProfile
	getByIDFunc func(ctx context.Context, id int64) (*model.QuotaProfile, error)
	adjustFunc  func(call adjustCall) error
	adjustCalls []adjustCall
}

func newMockQuota(profile *model.QuotaProfile) *mockQuota {
	m := &mockQuota{profile: profile}
	m.getByIDFunc = func(ctx context.Context, id int64) (*model.QuotaProfile, error) {
		return m.profile, nil
	}
	m.adjustFunc = func(call adjustCall) error {
		// 反映された増減を残高に適用する
		m.profile.Quota += call.deltaUnits
		return nil
	}
	return m
}

func (m *mockQuota) GetUserByID(ctx context.Context, id int64) (*model.QuotaProfile, error) {
	return m.getByIDFunc(ctx, id)
}
func (m *mockQuota) GetUserByExternalID(ctx context.Context, externalID string) (*model.QuotaProfile, error) {
	if m.profile != nil && m.profile.ExternalID == externalID {
		return m.profile, nil
	}
	return nil, nil
}
func (m *mockQuota) GetUserByUsername(ctx context.Context, username string) (*model.QuotaProfile, error) {
	return nil, nil
}
func (m *mockQuota) AdjustQuota(ctx context.Context, userID int64, deltaUnits int64, remark string) error {
	call := adjustCall{profileID: userID, deltaUnits: deltaUnits, remark: remark}
	m.adjustCalls = append(m.adjustCalls, call)
	return m.adjustFunc(call)
}

type mockCache struct {
	entries map[string]*model.QuotaProfile
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*model.QuotaProfile)}
}

func (m *mockCache) Get(userID, externalID string) *model.QuotaProfile {
	p := m.entries[userID]
	if p == nil || p.ExternalID != externalID {
		return nil
	}
	return p
}
func (m *mockCache) GetStale(userID, externalID string) (*model.QuotaProfile, time.Duration) {
	return m.Get(userID, externalID), time.Minute
}
func (m *mockCache) Put(userID string, profile *model.QuotaProfile) {
	if profile == nil {
		delete(m.entries, userID)
		return
	}
	m.entries[userID] = profile
}

type mockMetrics struct {
	signOutcomes         []string
	spinOutcomes         []string
	purchaseOutcomes     []string
	remoteFailures       []string
	compensationFailures int
}

func (m *mockMetrics) RecordSign(outcome string)     { m.signOutcomes = append(m.signOutcomes, outcome) }
func (m *mockMetrics) RecordSpin(outcome string)     { m.spinOutcomes = append(m.spinOutcomes, outcome) }
func (m *mockMetrics) RecordPurchase(outcome string) { m.purchaseOutcomes = append(m.purchaseOutcomes, outcome) }
func (m *mockMetrics) RecordRemoteFailure(operation string) {
	m.remoteFailures = append(m.remoteFailures, operation)
}
func (m *mockMetrics) RecordCompensationFailure()                       { m.compensationFailures++ }
func (m *mockMetrics) ObserveRemoteDuration(op string, seconds float64) {}

// --- ヘルパー ---

const testUnit = 500000

type fixture struct {
	service *Service
	ledger  *mockLedger
	quota   *mockQuota
	cache   *mockCache
	metrics *mockMetrics
}

func newFixture(t *testing.T, availableDollars int64) *fixture {
	t.Helper()

	drawer, err := policy.NewDrawer(50, 100,
		[]int{10, 20, 30, 50, 60, 100},
		[]float64{0.50, 0.25, 0.15, 0.05, 0.04, 0.01})
	if err != nil {
		t.Fatalf("NewDrawer returned error: %v", err)
	}

	ledger := newMockLedger()
	quota := newMockQuota(&model.QuotaProfile{
		ID:         42,
		Username:   "alice",
		ExternalID: "777",
		Quota:      availableDollars * testUnit,
		UsedQuota:  0,
	})
	cache := newMockCache()
	metrics := &mockMetrics{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewService(ledger, quota, cache, drawer, metrics, logger, Options{
		CurrencyUnit:       testUnit,
		LotteryCost:        20,
		MaxDailySpins:      5,
		ExtraPurchaseCost:  5,
		ExtraPurchaseLimit: 5,
	})
	service.sleep = func(time.Duration) {}

	return &fixture{service: service, ledger: ledger, quota: quota, cache: cache, metrics: metrics}
}

func testUser() *model.User {
	return &model.User{ID: "user-1", ExternalID: "777", DisplayName: "alice"}
}

func assertAPIErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T (%v), want *model.APIError", err, err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("error code = %q, want %q", apiErr.Code, wantCode)
	}
}

// --- サインイン ---

// サインイン成功時に入金・確定・残高更新が行われることを検証
func TestService_PerformSignIn_Success(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.PerformSignIn(context.Background(), testUser())
	if err != nil {
		t.Fatalf("PerformSignIn returned error: %v", err)
	}

	if result.Reward < 50 || result.Reward > 100 {
		t.Errorf("reward = %d, want in [50, 100]", result.Reward)
	}
	if len(f.quota.adjustCalls) != 1 {
		t.Fatalf("adjust calls = %d, want 1", len(f.quota.adjustCalls))
	}
	if got := f.quota.adjustCalls[0].deltaUnits; got != int64(result.Reward)*testUnit {
		t.Errorf("delta = %d, want %d", got, int64(result.Reward)*testUnit)
	}
	if len(f.ledger.completedSignIDs) != 1 {
		t.Errorf("completed records = %d, want 1", len(f.ledger.completedSignIDs))
	}
	if len(f.ledger.deletedSignIDs) != 0 {
		t.Errorf("deleted records = %d, want 0", len(f.ledger.deletedSignIDs))
	}

	// 入金後の利用可能残高が反映される
	want := float64(100 + result.Reward)
	if result.NewBalance != want {
		t.Errorf("balance = %v, want %v", result.NewBalance, want)
	}
}

// 同日2回目のサインインがALREADY_SIGNEDで拒否され、入金されないことを検証
func TestService_PerformSignIn_Idempotent(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	if _, err := f.service.PerformSignIn(ctx, testUser()); err != nil {
		t.Fatalf("first sign-in returned error: %v", err)
	}

	// 2回目は予約が拒否される
	f.ledger.reserveSignFunc = func(ctx context.Context, userID string, reward int) (*model.SignRecord, error) {
		return nil, nil
	}

	_, err := f.service.PerformSignIn(ctx, testUser())
	assertAPIErrorCode(t, err, model.ErrCodeAlreadySigned)

	if len(f.quota.adjustCalls) != 1 {
		t.Errorf("adjust calls = %d, want 1 (second attempt must not credit)", len(f.quota.adjustCalls))
	}
}

// リモート入金失敗時に予約が削除され、当日枠を消費しないことを検証
func TestService_PerformSignIn_RemoteFailureRollsBack(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.adjustFunc = func(call adjustCall) error {
		return errors.New("donehub unavailable")
	}

	_, err := f.service.PerformSignIn(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeRemoteMutationFailed)

	if len(f.ledger.deletedSignIDs) != 1 {
		t.Errorf("deleted records = %d, want 1", len(f.ledger.deletedSignIDs))
	}
	if len(f.ledger.completedSignIDs) != 0 {
		t.Errorf("completed records = %d, want 0", len(f.ledger.completedSignIDs))
	}
}

// 入金反映が確認できない場合に取り消さず期待残高で応答することを検証
func TestService_PerformSignIn_UnconfirmedCreditFallsBackToExpectedBalance(t *testing.T) {
	f := newFixture(t, 100)

	// 入金は成功扱いだが残高の再取得に増分が現れない（反映遅延が続く）状況
	f.quota.adjustFunc = func(call adjustCall) error { return nil }
	fetches := 0
	f.quota.getByIDFunc = func(ctx context.Context, id int64) (*model.QuotaProfile, error) {
		fetches++
		return &model.QuotaProfile{ID: 42, ExternalID: "777", Quota: 100 * testUnit}, nil
	}

	result, err := f.service.PerformSignIn(context.Background(), testUser())
	if err != nil {
		t.Fatalf("PerformSignIn returned error: %v", err)
	}

	if fetches != creditVerifyRetries {
		t.Errorf("verification fetches = %d, want %d", fetches, creditVerifyRetries)
	}
	// 入金自体は成功しているため記録は確定され、取り消されない
	if len(f.ledger.completedSignIDs) != 1 {
		t.Errorf("completed records = %d, want 1", len(f.ledger.completedSignIDs))
	}
	if len(f.ledger.deletedSignIDs) != 0 {
		t.Errorf("deleted records = %d, want 0", len(f.ledger.deletedSignIDs))
	}
	// 残高はローカルで加算した期待値になる
	want := float64(100 + result.Reward)
	if result.NewBalance != want {
		t.Errorf("balance = %v, want expected fallback %v", result.NewBalance, want)
	}
	if got := f.metrics.signOutcomes; len(got) != 1 || got[0] != OutcomeSyncUnconfirmed {
		t.Errorf("sign outcomes = %v, want [%q]", got, OutcomeSyncUnconfirmed)
	}
}

// --- 抽選 ---

// 抽選成功時にコスト控除→賞金入金→確定の順で処理されることを検証
func TestService_PerformLotterySpin_Success(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.PerformLotterySpin(context.Background(), testUser())
	if err != nil {
		t.Fatalf("PerformLotterySpin returned error: %v", err)
	}

	if len(f.quota.adjustCalls) != 2 {
		t.Fatalf("adjust calls = %d, want 2", len(f.quota.adjustCalls))
	}
	if got := f.quota.adjustCalls[0].deltaUnits; got != -20*testUnit {
		t.Errorf("first delta = %d, want %d (cost debit)", got, int64(-20*testUnit))
	}
	if got := f.quota.adjustCalls[1].deltaUnits; got != int64(result.Prize)*testUnit {
		t.Errorf("second delta = %d, want %d (prize credit)", got, int64(result.Prize)*testUnit)
	}
	if result.AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", result.AttemptNumber)
	}
	if result.RemainingAttempts != 4 {
		t.Errorf("remaining = %d, want 4", result.RemainingAttempts)
	}
	if result.NetChange != result.Prize-20 {
		t.Errorf("net change = %d, want %d", result.NetChange, result.Prize-20)
	}
	if len(f.ledger.completedSpinIDs) != 1 {
		t.Errorf("completed records = %d, want 1", len(f.ledger.completedSpinIDs))
	}
}

// 当日の上限到達時にDAILY_LIMIT_REACHEDで拒否されることを検証
func TestService_PerformLotterySpin_LimitReached(t *testing.T) {
	f := newFixture(t, 100)
	f.ledger.todayLotteryFunc = func(ctx context.Context, userID string) (int, *model.LotteryRecord, error) {
		return 5, &model.LotteryRecord{AttemptNumber: 5}, nil
	}

	_, err := f.service.PerformLotterySpin(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeDailyLimitReached)

	if len(f.quota.adjustCalls) != 0 {
		t.Errorf("adjust calls = %d, want 0", len(f.quota.adjustCalls))
	}
}

// 購入済み追加回数が上限を引き上げることを検証
func TestService_PerformLotterySpin_PurchasedAttemptsRaiseCap(t *testing.T) {
	f := newFixture(t, 100)
	f.ledger.todayLotteryFunc = func(ctx context.Context, userID string) (int, *model.LotteryRecord, error) {
		return 5, nil, nil
	}
	f.ledger.todayPurchaseCountFunc = func(ctx context.Context, userID string) (int, error) {
		return 2, nil
	}

	var gotMaxAttempts int
	f.ledger.reserveLotteryFunc = func(ctx context.Context, userID string, prize int, label string, cost, maxAttempts int) (*model.LotteryRecord, error) {
		gotMaxAttempts = maxAttempts
		return &model.LotteryRecord{ID: 10, AttemptNumber: 6, Prize: prize, Cost: cost}, nil
	}

	if _, err := f.service.PerformLotterySpin(context.Background(), testUser()); err != nil {
		t.Fatalf("PerformLotterySpin returned error: %v", err)
	}
	if gotMaxAttempts != 7 {
		t.Errorf("max attempts = %d, want 7 (5 base + 2 purchased)", gotMaxAttempts)
	}
}

// 残高不足時にINSUFFICIENT_FUNDSで拒否されることを検証
func TestService_PerformLotterySpin_InsufficientFunds(t *testing.T) {
	f := newFixture(t, 19) // コスト20に対して19

	_, err := f.service.PerformLotterySpin(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeInsufficientFunds)

	if len(f.quota.adjustCalls) != 0 {
		t.Errorf("adjust calls = %d, want 0", len(f.quota.adjustCalls))
	}
}

// コスト控除失敗時に予約が削除され賞金入金が行われないことを検証
func TestService_PerformLotterySpin_CostFailureRollsBack(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.adjustFunc = func(call adjustCall) error {
		return errors.New("donehub unavailable")
	}

	_, err := f.service.PerformLotterySpin(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeRemoteMutationFailed)

	if len(f.quota.adjustCalls) != 1 {
		t.Errorf("adjust calls = %d, want 1 (no prize credit)", len(f.quota.adjustCalls))
	}
	if len(f.ledger.deletedLotteryIDs) != 1 {
		t.Errorf("deleted records = %d, want 1", len(f.ledger.deletedLotteryIDs))
	}
}

// 賞金入金失敗時にコストと同額の補償が1回発行され、予約が削除されることを検証
func TestService_PerformLotterySpin_PrizeFailureCompensates(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.adjustFunc = func(call adjustCall) error {
		// 2回目（賞金入金）のみ失敗させる
		if len(f.quota.adjustCalls) == 2 {
			return errors.New("donehub rejected credit")
		}
		f.quota.profile.Quota += call.deltaUnits
		return nil
	}

	initialQuota := f.quota.profile.Quota

	_, err := f.service.PerformLotterySpin(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeRemoteMutationFailed)

	if len(f.quota.adjustCalls) != 3 {
		t.Fatalf("adjust calls = %d, want 3 (cost, prize, compensation)", len(f.quota.adjustCalls))
	}
	if got := f.quota.adjustCalls[2].deltaUnits; got != 20*testUnit {
		t.Errorf("compensation delta = %d, want %d", got, int64(20*testUnit))
	}
	if f.quota.profile.Quota != initialQuota {
		t.Errorf("remote quota = %d, want %d (net unchanged)", f.quota.profile.Quota, initialQuota)
	}
	if len(f.ledger.deletedLotteryIDs) != 1 {
		t.Errorf("deleted records = %d, want 1", len(f.ledger.deletedLotteryIDs))
	}
	if f.metrics.compensationFailures != 0 {
		t.Errorf("compensation failures = %d, want 0", f.metrics.compensationFailures)
	}
}

// 補償自体の失敗がCOMPENSATION_FAILEDとして昇格されることを検証
func TestService_PerformLotterySpin_CompensationFailed(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.adjustFunc = func(call adjustCall) error {
		// コスト控除のみ成功し、賞金入金と補償は失敗する
		if len(f.quota.adjustCalls) == 1 {
			f.quota.profile.Quota += call.deltaUnits
			return nil
		}
		return errors.New("donehub unavailable")
	}

	_, err := f.service.PerformLotterySpin(context.Background(), testUser())
	assertAPIErrorCode(t, err, model.ErrCodeCompensationFailed)

	if f.metrics.compensationFailures != 1 {
		t.Errorf("compensation failures = %d, want 1", f.metrics.compensationFailures)
	}
	// 補償に失敗してもローカル予約は残さない
	if len(f.ledger.deletedLotteryIDs) != 1 {
		t.Errorf("deleted records = %d, want 1", len(f.ledger.deletedLotteryIDs))
	}
}

// --- 追加回数購入 ---

// 購入成功時に一括控除と残高更新が行われることを検証
func TestService_PurchaseExtraAttempts_Success(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.PurchaseExtraAttempts(context.Background(), testUser(), 3)
	if err != nil {
		t.Fatalf("PurchaseExtraAttempts returned error: %v", err)
	}

	if result.Quantity != 3 {
		t.Errorf("quantity = %d, want 3", result.Quantity)
	}
	if len(f.quota.adjustCalls) != 1 {
		t.Fatalf("adjust calls = %d, want 1", len(f.quota.adjustCalls))
	}
	if got := f.quota.adjustCalls[0].deltaUnits; got != -15*testUnit {
		t.Errorf("delta = %d, want %d (5$ × 3)", got, int64(-15*testUnit))
	}
}

// 日次購入上限の超過がPURCHASE_LIMIT_REACHEDで拒否されることを検証
func TestService_PurchaseExtraAttempts_LimitReached(t *testing.T) {
	f := newFixture(t, 100)
	f.ledger.todayPurchaseCountFunc = func(ctx context.Context, userID string) (int, error) {
		return 4, nil
	}

	_, err := f.service.PurchaseExtraAttempts(context.Background(), testUser(), 2)
	assertAPIErrorCode(t, err, model.ErrCodePurchaseLimitReached)

	if len(f.quota.adjustCalls) != 0 {
		t.Errorf("adjust calls = %d, want 0", len(f.quota.adjustCalls))
	}
}

// 控除失敗時に購入記録がすべて削除されることを検証
func TestService_PurchaseExtraAttempts_RemoteFailureRollsBack(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.adjustFunc = func(call adjustCall) error {
		return errors.New("donehub unavailable")
	}

	_, err := f.service.PurchaseExtraAttempts(context.Background(), testUser(), 2)
	assertAPIErrorCode(t, err, model.ErrCodeRemoteMutationFailed)

	if len(f.ledger.deletedPurchaseIDs) != 2 {
		t.Errorf("deleted purchase records = %d, want 2", len(f.ledger.deletedPurchaseIDs))
	}
}

// --- プロファイル解決 ---

// 外部アカウントが見つからない場合にUSER_NOT_FOUNDとなることを検証
func TestService_ResolveProfile_NotBound(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.profile.ExternalID = "other"

	_, err := f.service.ResolveProfile(context.Background(), testUser(), true)
	assertAPIErrorCode(t, err, model.ErrCodeUserNotBound)
}

// キャッシュヒット後の再取得失敗時にキャッシュ値へフォールバックすることを検証
func TestService_ResolveProfile_StaleFallback(t *testing.T) {
	f := newFixture(t, 100)
	cached := &model.QuotaProfile{ID: 42, ExternalID: "777", Quota: 55 * testUnit}
	f.cache.Put("user-1", cached)
	f.quota.getByIDFunc = func(ctx context.Context, id int64) (*model.QuotaProfile, error) {
		return nil, errors.New("donehub unavailable")
	}

	profile, err := f.service.ResolveProfile(context.Background(), testUser(), false)
	if err != nil {
		t.Fatalf("ResolveProfile returned error: %v", err)
	}
	if profile != cached {
		t.Errorf("profile = %+v, want the cached snapshot", profile)
	}
}

// --- ダッシュボード ---

// プロファイル解決失敗時に残高0へ縮退しエラーにしないことを検証
func TestService_Dashboard_DegradesOnLookupFailure(t *testing.T) {
	f := newFixture(t, 100)
	f.quota.profile.ExternalID = "other" // 紐付けなし

	data, err := f.service.Dashboard(context.Background(), testUser())
	if err != nil {
		t.Fatalf("Dashboard returned error: %v", err)
	}
	if data.Balance != 0 {
		t.Errorf("balance = %v, want 0", data.Balance)
	}
	if data.Lottery.RemainingAttempts != 5 {
		t.Errorf("remaining = %d, want 5", data.Lottery.RemainingAttempts)
	}
}

// サインイン済みの日のダッシュボード表示を検証
func TestService_Dashboard_SignedState(t *testing.T) {
	f := newFixture(t, 100)
	f.ledger.todaySignFunc = func(ctx context.Context, userID string) (*model.SignRecord, error) {
		return &model.SignRecord{ID: 1, Reward: 72, Status: model.StatusCompleted}, nil
	}

	data, err := f.service.Dashboard(context.Background(), testUser())
	if err != nil {
		t.Fatalf("Dashboard returned error: %v", err)
	}
	if !data.Sign.TodaySigned {
		t.Error("today_signed should be true")
	}
	if data.Sign.TodayReward == nil || *data.Sign.TodayReward != 72 {
		t.Errorf("today_reward = %v, want 72", data.Sign.TodayReward)
	}
	if data.Balance != 100 {
		t.Errorf("balance = %v, want 100", data.Balance)
	}
}
