// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/jugueteria/tienda/internal/model"
)

// SignupProfileParams はcreate_profile_on_signup RPCへ渡すパラメータ。
// 呼び出し側で各フィールドをトリム済みであること。
type SignupProfileParams struct {
	UserID      string
	Email       string
	DisplayName string
	Surname     string
	Country     string
	City        string
	Phone       string
}

// SignupRPCResult はcreate_profile_on_signup RPCの戻り値。
// Successがfalseの場合、Messageに失敗理由が入る。
type SignupRPCResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProfileRepository はプロフィール（ロールレコード）の永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByEmail はemailでプロフィールを検索する。見つからない場合はnilを返す。
	// IDでの検索に失敗した場合のフォールバック手段。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)

	// SyncIdentity はemailをキーに、ドリフトしたプロフィール行のIDを
	// 現在のユーザーIDへ上書きする照合更新を行う。
	// ロール・表示名は取得済みレコードの値をそのまま再保存し、updated_atを更新する。
	SyncIdentity(ctx context.Context, profile *model.Profile, userID, email string) error

	// CreateOnSignup はcreate_profile_on_signup RPCを呼び出してプロフィールを作成する。
	// 呼び出し自体のエラーとRPCペイロードの失敗（Success=false）は区別して返す。
	CreateOnSignup(ctx context.Context, params SignupProfileParams) (*SignupRPCResult, error)
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// List は全商品をcreated_at降順で返す。
	List(ctx context.Context) ([]*model.Product, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// Create は商品を作成する。
	Create(ctx context.Context, product *model.Product) error

	// Update は商品を上書き更新する。
	Update(ctx context.Context, product *model.Product) error

	// Delete は指定IDの商品を削除する。対象が存在しない場合はエラーを返す。
	Delete(ctx context.Context, id string) error
}

// ContactRepository はお問い合わせメッセージの永続化インターフェース。
type ContactRepository interface {
	// Create はお問い合わせメッセージを保存する。
	Create(ctx context.Context, msg *model.ContactMessage) error

	// DeleteOlderThan は指定日時より古いメッセージを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
