// Package contact はお問い合わせフォームのドメインロジックを提供する。
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
	"github.com/jugueteria/tienda/internal/security"
)

// maxMessageLength はお問い合わせ本文の最大長。
const maxMessageLength = 4000

// Service はお問い合わせメッセージの受付サービス層。
type Service struct {
	messages  repository.ContactRepository
	sanitizer security.SanitizerService
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(messages repository.ContactRepository, sanitizer security.SanitizerService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		messages:  messages,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Input はお問い合わせフォームの入力。
type Input struct {
	Name    string
	Email   string
	Message string
}

// Submit はお問い合わせメッセージを検証・サニタイズして保存する。
func (s *Service) Submit(ctx context.Context, input Input) (*model.ContactMessage, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	message := strings.TrimSpace(input.Message)

	if name == "" {
		return nil, model.NewContactValidationError("名前は必須です")
	}
	if email == "" {
		return nil, model.NewContactValidationError("メールアドレスは必須です")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewContactValidationError("メールアドレスの形式が不正です")
	}
	if message == "" {
		return nil, model.NewContactValidationError("メッセージは必須です")
	}
	if len(message) > maxMessageLength {
		return nil, model.NewContactValidationError("メッセージが長すぎます")
	}

	msg := &model.ContactMessage{
		ID:        uuid.NewString(),
		Name:      s.sanitizer.SanitizeText(name),
		Email:     email,
		Message:   s.sanitizer.SanitizeText(message),
		CreatedAt: time.Now(),
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("お問い合わせの保存に失敗しました: %w", err)
	}

	s.logger.Info("contact message received",
		slog.String("message_id", msg.ID),
	)
	return msg, nil
}
