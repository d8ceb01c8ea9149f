package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// 認証URLに必要なパラメータが含まれることを検証
func TestLinuxDoOAuthProvider_GetLoginURL(t *testing.T) {
	provider := NewLinuxDoOAuthProvider(LinuxDoOAuthConfig{
		ClientID:    "client-123",
		RedirectURL: "https://wheel.example.com/auth/linuxdo/callback",
	})

	loginURL := provider.GetLoginURL("state-abc")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	if !strings.HasPrefix(loginURL, defaultLinuxDoAuthURL) {
		t.Errorf("login URL = %q, want prefix %q", loginURL, defaultLinuxDoAuthURL)
	}

	q := parsed.Query()
	if q.Get("client_id") != "client-123" {
		t.Errorf("client_id = %q, want %q", q.Get("client_id"), "client-123")
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want %q", q.Get("response_type"), "code")
	}
	if q.Get("scope") != "read" {
		t.Errorf("scope = %q, want %q", q.Get("scope"), "read")
	}
	if q.Get("state") != "state-abc" {
		t.Errorf("state = %q, want %q", q.Get("state"), "state-abc")
	}
}

// 認可コード交換とユーザー情報取得の一連の流れを検証
func TestLinuxDoOAuthProvider_ExchangeCode(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.Form.Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want %q", got, "auth-code")
		}
		if got := r.Form.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want %q", got, "authorization_code")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-xyz",
			"token_type":   "Bearer",
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-xyz" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer token-xyz")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       12345,
			"username": "alice",
		})
	}))
	defer userInfoServer.Close()

	provider := NewLinuxDoOAuthProvider(LinuxDoOAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "https://wheel.example.com/auth/linuxdo/callback",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	userInfo, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if userInfo.ExternalID != "12345" {
		t.Errorf("ExternalID = %q, want %q", userInfo.ExternalID, "12345")
	}
	if userInfo.Username != "alice" {
		t.Errorf("Username = %q, want %q", userInfo.Username, "alice")
	}
}

// トークン交換失敗時にエラーを返すことを検証
func TestLinuxDoOAuthProvider_ExchangeCode_TokenError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer tokenServer.Close()

	provider := NewLinuxDoOAuthProvider(LinuxDoOAuthConfig{
		TokenURL: tokenServer.URL,
	})

	if _, err := provider.ExchangeCode(context.Background(), "bad-code"); err == nil {
		t.Error("expected error for rejected code, got nil")
	}
}

// ユーザー情報にIDが無い場合にエラーを返すことを検証
func TestLinuxDoOAuthProvider_ExchangeCode_MissingUserID(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "token-xyz"})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"username": "ghost"})
	}))
	defer userInfoServer.Close()

	provider := NewLinuxDoOAuthProvider(LinuxDoOAuthConfig{
		TokenURL:    tokenServer.URL,
		UserInfoURL: userInfoServer.URL,
	})

	if _, err := provider.ExchangeCode(context.Background(), "auth-code"); err == nil {
		t.Error("expected error for missing user id, got nil")
	}
}
