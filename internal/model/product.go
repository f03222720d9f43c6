package model

import (
	"strings"
	"time"
)

// Product は商品カタログの商品を表す。
type Product struct {
	ID          string
	Name        string
	Price       float64
	Category    string
	Description string
	ImageURL    string
	Stock       int
	Featured    bool
	Brand       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MatchesSearch は検索語が商品のいずれかのフィールドに一致するかを返す。
// name、description、category、brandを対象とし、大文字小文字は区別しない。
// 検索語が空の場合は常にtrueを返す。
func (p *Product) MatchesSearch(term string) bool {
	if term == "" {
		return true
	}
	return containsFold(p.Name, term) ||
		containsFold(p.Description, term) ||
		containsFold(p.Category, term) ||
		containsFold(p.Brand, term)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
