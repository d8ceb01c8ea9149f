package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, reward, balance, remote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadySigned        = "ALREADY_SIGNED"
	ErrCodeDailyLimitReached    = "DAILY_LIMIT_REACHED"
	ErrCodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrCodeUserLookupFailed     = "USER_LOOKUP_FAILED"
	ErrCodeUserNotBound         = "USER_NOT_FOUND"
	ErrCodeRemoteMutationFailed = "REMOTE_MUTATION_FAILED"
	ErrCodeCompensationFailed   = "COMPENSATION_FAILED"
	ErrCodePurchaseLimitReached = "PURCHASE_LIMIT_REACHED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
)

// NewAlreadySignedError は同日重複サインインのエラーを生成する。
func NewAlreadySignedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadySigned,
		Message:  "今日はすでにサインイン済みです。",
		Category: "reward",
		Action:   "明日またお越しください。",
	}
}

// NewDailyLimitReachedError は抽選回数上限到達のエラーを生成する。
func NewDailyLimitReachedError() *APIError {
	return &APIError{
		Code:     ErrCodeDailyLimitReached,
		Message:  "本日の抽選回数の上限に達しました。",
		Category: "reward",
		Action:   "明日またお越しください。追加回数の購入も可能です。",
	}
}

// NewInsufficientFundsError は残高不足のエラーを生成する。
func NewInsufficientFundsError() *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientFunds,
		Message:  "残高が不足しているため実行できません。",
		Category: "balance",
		Action:   "外部サービスで残高をチャージしてから再度お試しください。",
	}
}

// NewUserLookupFailedError は外部アカウントの照会失敗エラーを生成する。
// 一時的な障害を表し、未紐付けとは区別される。
func NewUserLookupFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUserLookupFailed,
		Message:  fmt.Sprintf("外部アカウントの照会に失敗しました: %s", reason),
		Category: "remote",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotBoundError は外部アカウント未紐付けのエラーを生成する。
func NewUserNotBoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotBound,
		Message:  "外部サービスに対応するアカウントが見つかりません。",
		Category: "remote",
		Action:   "先に外部サービスでアカウントを連携してください。",
	}
}

// NewRemoteMutationFailedError はリモート残高変更の失敗エラーを生成する。
// ローカル予約はオーケストレーターによってロールバック済みであることが保証される。
func NewRemoteMutationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteMutationFailed,
		Message:  fmt.Sprintf("残高の反映に失敗しました: %s", reason),
		Category: "remote",
		Action:   "しばらく待ってから再度お試しください。残高は変更されていません。",
	}
}

// NewCompensationFailedError は補償取引の失敗エラーを生成する。
// 残高が不整合な状態にあり、運用者による対応が必要なことを示す。
func NewCompensationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCompensationFailed,
		Message:  fmt.Sprintf("残高の巻き戻しに失敗しました。管理者に連絡してください: %s", reason),
		Category: "remote",
		Action:   "お手数ですが管理者に連絡してください。",
	}
}

// NewPurchaseLimitReachedError は追加回数購入の上限到達エラーを生成する。
func NewPurchaseLimitReachedError(remaining int) *APIError {
	msg := "本日購入できる回数の上限に達しました。"
	if remaining > 0 {
		msg = fmt.Sprintf("本日あと%d回まで購入できます。", remaining)
	}
	return &APIError{
		Code:     ErrCodePurchaseLimitReached,
		Message:  msg,
		Category: "reward",
		Action:   "明日またお越しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}
