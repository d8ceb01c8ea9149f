// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 外部OAuthプロバイダーの初回ログイン時に自動作成される。
type User struct {
	ID          string
	ExternalID  string // OAuthプロバイダー側の不透明なユーザーID
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
