// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeSignupAuthFailed   = "SIGNUP_AUTH_FAILED"
	ErrCodeProfileSyncPending = "PROFILE_SYNC_PENDING"
	ErrCodeProfileRPCFailed   = "PROFILE_RPC_FAILED"
	ErrCodeProductNotFound    = "PRODUCT_NOT_FOUND"
	ErrCodeProductValidation  = "PRODUCT_VALIDATION"
	ErrCodeImageURLBlocked    = "IMAGE_URL_BLOCKED"
	ErrCodeContactValidation  = "CONTACT_VALIDATION"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// IDサービスからの失敗はユーザーが対処可能なため、そのまま表示する。
func NewInvalidCredentialsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  fmt.Sprintf("サインインに失敗しました: %s", reason),
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、サインインしてください。",
	}
}

// NewSignupAuthFailedError はIDサービスでのアカウント作成失敗エラーを生成する。
// 登録処理全体を中断する致命的エラー。
func NewSignupAuthFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignupAuthFailed,
		Message:  fmt.Sprintf("アカウントの作成に失敗しました: %s", reason),
		Category: "auth",
		Action:   "入力内容を確認し、再度お試しください。",
	}
}

// NewProfileSyncPendingError はIDレコードがまだプロフィールストアに
// 伝搬していない場合のエラーを生成する。
func NewProfileSyncPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileSyncPending,
		Message:  "ユーザー情報の同期が完了していません。",
		Category: "auth",
		Action:   "数秒待ってから再度お試しください。",
	}
}

// NewProfileRPCFailedError はプロフィール作成RPCの失敗エラーを生成する。
func NewProfileRPCFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileRPCFailed,
		Message:  fmt.Sprintf("プロフィールの作成に失敗しました: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "catalog",
		Action:   "商品IDを確認してください。",
	}
}

// NewProductValidationError は商品入力の検証エラーを生成する。
func NewProductValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProductValidation,
		Message:  fmt.Sprintf("商品の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "商品名と価格は必須です。入力内容を確認してください。",
	}
}

// NewImageURLBlockedError は商品画像URLがブロックされた場合のエラーを生成する。
func NewImageURLBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeImageURLBlocked,
		Message:  "セキュリティポリシーにより、指定された画像URLは使用できません。",
		Category: "validation",
		Action:   "公開されているhttps URLを指定してください。プライベートIPへの参照は許可されていません。",
	}
}

// NewContactValidationError はお問い合わせ入力の検証エラーを生成する。
func NewContactValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeContactValidation,
		Message:  fmt.Sprintf("お問い合わせの入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "名前、メールアドレス、メッセージをすべて入力してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "サインインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// 現在のロールを含めて返し、権限診断への誘導に使用する。
func NewForbiddenError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("管理者権限が必要です。現在のロール: %s", role),
		Category: "auth",
		Action:   "管理者アカウントでサインインするか、権限診断を実行してください。",
	}
}
