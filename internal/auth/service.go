// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/luckywheel/internal/model"
	"github.com/hitoshi/luckywheel/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ExternalID string // プロバイダー側のユーザーID
	Username   string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	// RefreshDisplayName が真の場合、再ログイン時に表示名を
	// プロバイダーの最新値で上書きする。
	RefreshDisplayName bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーは外部IDをキーに自動作成する。登録済みユーザーの
// 表示名はRefreshDisplayNameが有効な場合のみ最新値で更新する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 外部IDで既存ユーザーを検索
	user, err := s.userRepo.FindByExternalID(ctx, userInfo.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user != nil {
		// 3a. 既存ユーザー
		if s.config.RefreshDisplayName && user.DisplayName != userInfo.Username {
			if err := s.userRepo.UpdateDisplayName(ctx, user.ID, userInfo.Username); err != nil {
				return nil, fmt.Errorf("failed to update display name: %w", err)
			}
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("external_id", userInfo.ExternalID),
		)
	} else {
		// 3b. 新規ユーザーを作成
		now := time.Now()
		user = &model.User{
			ID:          uuid.New().String(),
			ExternalID:  userInfo.ExternalID,
			DisplayName: userInfo.Username,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		switch err := s.userRepo.Create(ctx, user); {
		case errors.Is(err, repository.ErrDuplicateUser):
			// 同時の初回ログインで先を越された場合は作成済みの行を使う
			user, err = s.userRepo.FindByExternalID(ctx, userInfo.ExternalID)
			if err != nil {
				return nil, fmt.Errorf("failed to refetch user after duplicate create: %w", err)
			}
			if user == nil {
				return nil, fmt.Errorf("user disappeared after duplicate create: %s", userInfo.ExternalID)
			}
			slog.Info("concurrent first login resolved to existing user",
				slog.String("user_id", user.ID),
				slog.String("external_id", userInfo.ExternalID),
			)
		case err != nil:
			return nil, fmt.Errorf("failed to create user: %w", err)
		default:
			slog.Info("new user created",
				slog.String("user_id", user.ID),
				slog.String("external_id", userInfo.ExternalID),
			)
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
