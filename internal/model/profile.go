package model

import "time"

// Role はアクセスレベルを表す。管理者専用ビューのゲートに使用する。
type Role string

const (
	// RoleGuest は未認証状態を表す。
	RoleGuest Role = "guest"
	// RoleUser は一般ユーザーを表す。プロフィール未取得時のデフォルト。
	RoleUser Role = "user"
	// RoleAdmin は管理者を表す。商品CRUDと診断ビューにアクセスできる。
	RoleAdmin Role = "admin"
)

// NormalizeRole はプロフィールストアから取得したrole値を正規化する。
// 空文字列・未知の値はuserにフォールバックする。
// 管理者権限はストアに明示的にadminが保存されている場合のみ付与される。
func NormalizeRole(raw string) Role {
	switch Role(raw) {
	case RoleAdmin:
		return RoleAdmin
	case RoleGuest:
		return RoleGuest
	default:
		return RoleUser
	}
}

// Profile はIDサービスのユーザーと1対1で対応するロールレコードを表す。
// IDはユーザーIDと同値の外部キー。結果整合のため一時的に存在しないことがある。
type Profile struct {
	ID            string
	Email         string
	Role          Role
	RequestedRole Role
	DisplayName   string
	Surname       string
	UpdatedAt     time.Time
}
