// Package model はドメインモデルを定義する。
package model

import "time"

// User は外部IDサービス（GoTrue互換API）が発行する認証済みユーザーを表す。
// このアプリケーションからは参照のみで、変更は行わない。
type User struct {
	ID    string
	Email string
}

// Session は外部IDサービスが発行するトークンバンドルを表す。
// サインアウトまたは有効期限切れで無効になる。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         *User
}

// Expired はセッションが有効期限切れかどうかを返す。
// ExpiresAtがゼロ値の場合は期限切れとは判定しない。
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.ExpiresAt)
}
