// Package security はアプリケーションのセキュリティ機能を提供する。
//
// SanitizerService はユーザー入力（商品説明・お問い合わせ本文）をサニタイズし、
// XSS攻撃などのセキュリティリスクから保護する。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// 安全なタグのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// SanitizerService はユーザー入力のサニタイズ機能のインターフェースを定義する。
type SanitizerService interface {
	// SanitizeDescription は商品説明をサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, ul, ol, li, strong, em）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeDescription(raw string) string

	// SanitizeText はすべてのタグを除去し、プレーンテキストを返す。
	// お問い合わせ本文・名前など、HTMLを想定しないフィールドに使用する。
	SanitizeText(raw string) string
}

// sanitizer はSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type sanitizer struct {
	descriptionPolicy *bluemonday.Policy
	textPolicy        *bluemonday.Policy
}

var _ SanitizerService = (*sanitizer)(nil)

// NewSanitizer はSanitizerServiceの新しいインスタンスを生成する。
// 商品説明用のポリシー:
//   - 許可タグ: p, br, ul, ol, li, strong, em
//   - script, iframe, style等は許可リストに含めないことで自動的に除去される
//   - on*イベント属性はbluemondayのデフォルトで許可されない
//
// プレーンテキスト用のポリシーはすべてのタグを除去する。
func NewSanitizer() *sanitizer {
	desc := bluemonday.NewPolicy()
	desc.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em",
	)

	return &sanitizer{
		descriptionPolicy: desc,
		textPolicy:        bluemonday.StrictPolicy(),
	}
}

// SanitizeDescription は商品説明をサニタイズして安全なHTMLを返す。
func (s *sanitizer) SanitizeDescription(raw string) string {
	return s.descriptionPolicy.Sanitize(raw)
}

// SanitizeText はすべてのタグを除去し、プレーンテキストを返す。
func (s *sanitizer) SanitizeText(raw string) string {
	return s.textPolicy.Sanitize(raw)
}
