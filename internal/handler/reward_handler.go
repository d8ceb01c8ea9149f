package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/luckywheel/internal/middleware"
	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/reward"
)

// RewardServiceInterface は報酬ハンドラーが必要とするサービスインターフェース。
type RewardServiceInterface interface {
	// Dashboard はダッシュボード表示用の集約データを取得する。
	Dashboard(ctx context.Context, user *model.User) (*reward.DashboardData, error)
	// PerformSignIn は当日1回のサインイン報酬を付与する。
	PerformSignIn(ctx context.Context, user *model.User) (*reward.SignResult, error)
	// PerformLotterySpin は抽選を1回実行する。
	PerformLotterySpin(ctx context.Context, user *model.User) (*reward.LotteryResult, error)
	// PurchaseExtraAttempts は追加抽選回数を購入する。
	PurchaseExtraAttempts(ctx context.Context, user *model.User, quantity int) (*reward.PurchaseResult, error)
}

// UserFinder はセッションのユーザーIDからユーザーを引くためのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// RewardHandler はサインイン・抽選・購入のHTTPハンドラー。
type RewardHandler struct {
	service RewardServiceInterface
	users   UserFinder
}

// NewRewardHandler はRewardHandlerを生成する。
func NewRewardHandler(service RewardServiceInterface, users UserFinder) *RewardHandler {
	return &RewardHandler{
		service: service,
		users:   users,
	}
}

// purchaseRequest は追加回数購入リクエストのボディ。
type purchaseRequest struct {
	Quantity int `json:"quantity"`
}

// signResponse はサインイン成功時のレスポンス。
type signResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*reward.SignResult
}

// lotteryResponse は抽選成功時のレスポンス。
type lotteryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*reward.LotteryResult
}

// purchaseResponse は追加回数購入成功時のレスポンス。
type purchaseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*reward.PurchaseResult
}

// Dashboard はダッシュボードデータを返す。
// GET /api/dashboard
func (h *RewardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	data, err := h.service.Dashboard(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// SignIn は当日のサインイン報酬を付与する。
// POST /api/sign
func (h *RewardHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.PerformSignIn(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, signResponse{
		Success:    true,
		Message:    fmt.Sprintf("サインインが完了しました。%d$を獲得しました。", result.Reward),
		SignResult: result,
	})
}

// Spin は抽選を1回実行する。
// POST /api/lottery
func (h *RewardHandler) Spin(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.PerformLotterySpin(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lotteryResponse{
		Success:       true,
		Message:       fmt.Sprintf("%d$が当選しました！", result.Prize),
		LotteryResult: result,
	})
}

// PurchaseAttempts は追加抽選回数を購入する。
// POST /api/lottery/purchase
func (h *RewardHandler) PurchaseAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	result, err := h.service.PurchaseExtraAttempts(r.Context(), user, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:        true,
		Message:        fmt.Sprintf("追加抽選回数を%d回購入しました。", result.Quantity),
		PurchaseResult: result,
	})
}

// currentUser はセッションミドルウェアが注入したユーザーIDからユーザーを解決する。
// 失敗時は401を書き込み、falseを返す。
func (h *RewardHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load user", slog.String("user_id", userID), slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	if user == nil {
		// セッションは有効だがユーザーが削除済み
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}

	return user, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	if apiErr, ok := reward.AsAPIError(err); ok {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAlreadySigned,
		model.ErrCodeDailyLimitReached,
		model.ErrCodeInsufficientFunds,
		model.ErrCodePurchaseLimitReached,
		model.ErrCodeUserNotBound:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUserLookupFailed, model.ErrCodeRemoteMutationFailed:
		return http.StatusBadGateway
	case model.ErrCodeCompensationFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
