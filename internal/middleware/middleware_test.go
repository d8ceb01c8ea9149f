package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
)

type mockSessionFinder struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.findByIDFunc(ctx, id)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// 有効なセッションCookieでユーザーIDがコンテキストに注入されることを検証
func TestSessionMiddleware_ValidSession(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "sess-1" {
				t.Errorf("session id = %q, want %q", id, "sess-1")
			}
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}

	var gotUserID string
	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotUserID != "user-1" {
		t.Errorf("user id = %q, want %q", gotUserID, "user-1")
	}
}

// Cookieなし・無効セッションで401が返ることを検証
func TestSessionMiddleware_Unauthorized(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil // 期限切れまたは存在しない
		},
	}
	handler := NewSessionMiddleware(finder)(okHandler())

	// Cookieなし
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without cookie = %d, want 401", rec.Code)
	}

	// 無効なセッション
	req = httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "dead"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with invalid session = %d, want 401", rec.Code)
	}
}

// 抽選リミッターがバースト超過で429を返すことを検証
func TestRateLimiter_SpinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfigFromPerMinute(120, 2))
	defer rl.Stop()

	handler := rl.SpinMiddleware()(okHandler())

	makeRequest := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/lottery", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// バースト分は通過する
	for i := 0; i < 2; i++ {
		if code := makeRequest(); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, code)
		}
	}

	// バースト超過で429
	code := makeRequest()
	if code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", code)
	}
}

// 抽選リミッターがユーザーごとに独立していることを検証
func TestRateLimiter_SpinLimitPerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfigFromPerMinute(120, 1))
	defer rl.Stop()

	handler := rl.SpinMiddleware()(okHandler())

	makeRequest := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/lottery", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := makeRequest("user-1"); code != http.StatusOK {
		t.Fatalf("user-1 first request status = %d, want 200", code)
	}
	if code := makeRequest("user-1"); code != http.StatusTooManyRequests {
		t.Errorf("user-1 second request status = %d, want 429", code)
	}
	// 別ユーザーは影響を受けない
	if code := makeRequest("user-2"); code != http.StatusOK {
		t.Errorf("user-2 first request status = %d, want 200", code)
	}
}

// no-cacheミドルウェアがキャッシュ禁止ヘッダーを付与することを検証
func TestNoCacheMiddleware(t *testing.T) {
	handler := NewNoCacheMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Cache-Control"); got != "no-store, no-cache, must-revalidate, max-age=0, private" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want no-cache", got)
	}
}

// CORSミドルウェアがプリフライトに204で応答することを検証
func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware("https://wheel.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/sign", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://wheel.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
}

// エラーレスポンスが統一フォーマットで出力されることを検証
func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, http.StatusBadRequest, model.NewInsufficientFundsError())

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	body := rec.Body.String()
	if body == "" {
		t.Fatal("body should not be empty")
	}
	for _, key := range []string{"code", "message", "category", "action"} {
		if !strings.Contains(body, `"`+key+`":`) {
			t.Errorf("body missing %q field: %s", key, body)
		}
	}
}
