// Package cleanup はお問い合わせメッセージの自動削除ジョブを提供する。
// 保持期間（デフォルト365日）を超過したメッセージを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MessageDeleter は期限切れメッセージの削除を抽象化するインターフェース。
// repository.ContactRepositoryの部分集合として定義する。
type MessageDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したお問い合わせメッセージの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	messages      MessageDeleter
	logger        *slog.Logger
	RetentionDays int // メッセージの保持日数（デフォルト: 365）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は365日。
func NewCleanupJob(messages MessageDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		messages:      messages,
		logger:        logger,
		RetentionDays: 365,
	}
}

// Run は保持期間を超過したメッセージを削除する。
// created_atがRetentionDays日前より古いメッセージが対象。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.messages.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("メッセージクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("メッセージクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("メッセージクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
