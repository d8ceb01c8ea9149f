package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultLinuxDoAuthURL     = "https://connect.linux.do/oauth2/authorize"
	defaultLinuxDoTokenURL    = "https://connect.linux.do/oauth2/token"
	defaultLinuxDoUserInfoURL = "https://connect.linux.do/api/user"
)

// LinuxDoOAuthConfig はLinuxDo OAuthプロバイダーの設定。
type LinuxDoOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// LinuxDoOAuthProvider はLinuxDo Connectによる認証を提供する。
type LinuxDoOAuthProvider struct {
	config LinuxDoOAuthConfig
}

// NewLinuxDoOAuthProvider はLinuxDoOAuthProviderを生成する。
func NewLinuxDoOAuthProvider(config LinuxDoOAuthConfig) *LinuxDoOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLinuxDoAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLinuxDoTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultLinuxDoUserInfoURL
	}
	return &LinuxDoOAuthProvider{config: config}
}

// GetLoginURL はLinuxDo OAuthの認証URLを生成する。スコープはread。
func (p *LinuxDoOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"read"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// linuxDoTokenResponse はトークンエンドポイントのレスポンス。
type linuxDoTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// linuxDoUserInfo はユーザー情報エンドポイントのレスポンス。
type linuxDoUserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *LinuxDoOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	userInfo, err := p.fetchUserInfo(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	username := userInfo.Username
	if username == "" {
		username = "unknown"
	}

	return &OAuthUserInfo{
		ExternalID: strconv.FormatInt(userInfo.ID, 10),
		Username:   username,
	}, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *LinuxDoOAuthProvider) exchangeToken(ctx context.Context, code string) (*linuxDoTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp linuxDoTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでLinuxDoのユーザー情報を取得する。
func (p *LinuxDoOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*linuxDoUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo linuxDoUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.ID == 0 {
		return nil, fmt.Errorf("empty user id in user info response")
	}

	return &userInfo, nil
}

// compile-time interface check
var _ OAuthProvider = (*LinuxDoOAuthProvider)(nil)
