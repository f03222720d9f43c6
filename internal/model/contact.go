package model

import "time"

// ContactMessage はお問い合わせフォームから送信されたメッセージを表す。
type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Message   string
	CreatedAt time.Time
}
