package model

import "time"

// RecordStatus はローカル台帳レコードの状態を表す。
// pendingはリモート残高反映前の予約状態、completedは反映完了状態。
type RecordStatus string

const (
	// StatusPending はリモート残高の反映待ち状態を示す。
	StatusPending RecordStatus = "pending"
	// StatusCompleted はリモート残高の反映が完了した状態を示す。
	StatusCompleted RecordStatus = "completed"
)

// SignRecord は1ユーザー1日1件の签到（サインイン）記録を表す。
// (user_id, sign_date)のユニーク制約で同日重複を防ぐ。
type SignRecord struct {
	ID        int64
	UserID    string
	Reward    int // 通貨単位の報酬額
	SignDate  time.Time
	Status    RecordStatus
	CreatedAt time.Time
}

// LotteryRecord は抽選1回分の記録を表す。
// attempt_numberはユーザー・日ごとに1始まりの連番で、
// (user_id, spin_date, attempt_number)のユニーク制約で重複を防ぐ。
type LotteryRecord struct {
	ID              int64
	UserID          string
	Prize           int // 通貨単位の当選額
	RedemptionLabel string
	SpinDate        time.Time
	Status          RecordStatus
	AttemptNumber   int
	Cost            int // 通貨単位の参加コスト
	CreatedAt       time.Time
}

// AttemptPurchase は追加抽選回数の購入記録を表す。
// 1行が1回分に相当し、当日の購入行数が日次上限の加算分になる。
type AttemptPurchase struct {
	ID           int64
	UserID       string
	PurchaseDate time.Time
	Cost         int
	CreatedAt    time.Time
}

// DailyTotals はユーザーの当日completed分の抽選集計。
type DailyTotals struct {
	TotalPrize int `json:"total_prize"`
	TotalCost  int `json:"total_cost"`
	NetChange  int `json:"net_change"`
	Attempts   int `json:"attempts"`
}

// LeaderboardEntry は当日ランキングの1行を表す。
// 純増額の降順、同値は当選総額の降順で並ぶ。
type LeaderboardEntry struct {
	UserID      string `json:"-"`
	DisplayName string `json:"display_name"`
	TotalPrize  int    `json:"total_prize"`
	TotalCost   int    `json:"total_cost"`
	NetChange   int    `json:"net_change"`
	Attempts    int    `json:"attempts"`
}
