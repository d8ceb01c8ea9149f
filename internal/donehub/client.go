// Package donehub はDoneHubクォータ管理APIのクライアントを提供する。
// ユーザー検索とクォータ増減のエンドポイントを呼び出し、
// JSONエンベロープとプレーンテキスト応答の両方を処理する。
package donehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/luckywheel/internal/model"
)

// APIError はDoneHub API呼び出しの失敗を表す。
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("donehub api error: %s", e.Message)
}

// Client はDoneHub APIのクライアント。
// 全リクエストにBearerトークンを付与する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用に差し替え可能
	accessToken string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, accessToken string) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
	}
}

// envelope はDoneHub APIの標準レスポンス形式。
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// profilePayload はユーザーAPIレスポンスのユーザー項目。
type profilePayload struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	LinuxDoID        any    `json:"linuxdo_id"`
	LinuxDoUsername  string `json:"linuxdo_username"`
	Quota            int64  `json:"quota"`
	UsedQuota        int64  `json:"used_quota"`
}

// toProfile はAPIペイロードをドメインモデルに変換する。
// linuxdo_idは数値・文字列どちらで返る場合もあるため文字列に正規化する。
func (p *profilePayload) toProfile() *model.QuotaProfile {
	externalID := ""
	switch v := p.LinuxDoID.(type) {
	case string:
		externalID = v
	case float64:
		externalID = strconv.FormatInt(int64(v), 10)
	}
	return &model.QuotaProfile{
		ID:               p.ID,
		Username:         p.Username,
		ExternalID:       externalID,
		ExternalUsername: p.LinuxDoUsername,
		Quota:            p.Quota,
		UsedQuota:        p.UsedQuota,
	}
}

// doRequest はリクエストを実行しエンベロープを返す。
// 5xxはエラー、204と空ボディは空エンベロープとして扱う。
// JSONでないボディは成功ステータスかつ"ok"等の場合のみ成功と見なす。
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("DoneHub APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("DoneHub APIがサーバーエラーを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &APIError{Message: fmt.Sprintf("server error %d", resp.StatusCode)}
	}

	if resp.StatusCode == http.StatusNoContent {
		return &envelope{}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return &envelope{}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// 一部のエンドポイントはプレーンテキスト（"ok"等）やHTMLエラーページを返す
		lowered := strings.ToLower(text)
		if resp.StatusCode < http.StatusBadRequest &&
			(lowered == "ok" || lowered == "success" || lowered == "true") {
			return &envelope{}, nil
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{Message: truncate(text, 200)}
		}
		return nil, &APIError{Message: "unexpected non-JSON response: " + truncate(text, 120)}
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		return nil, &APIError{Message: errorMessage(env.Error)}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{Message: msg}
	}

	return &env, nil
}

// errorMessage はerrorフィールドからメッセージを抽出する。
// {"message": "..."} 形式と文字列形式の両方に対応する。
func errorMessage(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetSelf はアクセストークンに紐づく管理ユーザー自身の情報を取得する。
// 起動時のトークン検証に使用される。
func (c *Client) GetSelf(ctx context.Context) (*model.QuotaProfile, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/api/user/self", nil)
	if err != nil {
		return nil, err
	}
	return decodeProfile(env.Data)
}

// GetUserByID はDoneHub内部IDでユーザーを取得する。存在しない場合はnil。
func (c *Client) GetUserByID(ctx context.Context, id int64) (*model.QuotaProfile, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/api/user/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	return decodeProfile(env.Data)
}

// SearchUsers はキーワードでユーザーを検索する。
func (c *Client) SearchUsers(ctx context.Context, keyword string) ([]*model.QuotaProfile, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/api/user/?keyword="+url.QueryEscape(keyword), nil)
	if err != nil {
		return nil, err
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}

	// dataは {"data": [...]} 形式でネストされる
	var page struct {
		Data []profilePayload `json:"data"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return nil, fmt.Errorf("検索結果のパースに失敗しました: %w", err)
	}

	profiles := make([]*model.QuotaProfile, 0, len(page.Data))
	for i := range page.Data {
		profiles = append(profiles, page.Data[i].toProfile())
	}
	return profiles, nil
}

// GetUserByExternalID は外部連携IDが一致するユーザーを検索して返す。
// 一致するユーザーがいない場合はnilを返す。
func (c *Client) GetUserByExternalID(ctx context.Context, externalID string) (*model.QuotaProfile, error) {
	if externalID == "" {
		return nil, nil
	}

	profiles, err := c.SearchUsers(ctx, externalID)
	if err != nil {
		return nil, err
	}

	for _, p := range profiles {
		if p.ExternalID == externalID {
			return p, nil
		}
	}
	return nil, nil
}

// GetUserByUsername は外部連携ユーザー名が一致するユーザーを検索して返す。
// 厳密一致がない場合はユーザー名一致、それもなければ先頭の候補を返す。
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*model.QuotaProfile, error) {
	if username == "" {
		return nil, nil
	}

	profiles, err := c.SearchUsers(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	for _, p := range profiles {
		if p.ExternalUsername == username {
			return p, nil
		}
	}
	for _, p := range profiles {
		if p.Username == username {
			return p, nil
		}
	}
	return profiles[0], nil
}

// AdjustQuota は指定ユーザーのクォータを増減する。
// deltaUnitsは内部単位（currency unit換算済み）で、負値は減算を表す。
func (c *Client) AdjustQuota(ctx context.Context, userID int64, deltaUnits int64, remark string) error {
	payload := map[string]any{"quota": deltaUnits}
	if remark != "" {
		payload["remark"] = remark
	}

	_, err := c.doRequest(ctx, http.MethodPost, "/api/user/quota/"+strconv.FormatInt(userID, 10), payload)
	if err != nil {
		return err
	}
	return nil
}

// decodeProfile はdataフィールドを単一プロファイルとしてデコードする。
// dataが空またはnullの場合はnilを返す。
func decodeProfile(data json.RawMessage) (*model.QuotaProfile, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var payload profilePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("プロファイルのパースに失敗しました: %w", err)
	}
	return payload.toProfile(), nil
}
