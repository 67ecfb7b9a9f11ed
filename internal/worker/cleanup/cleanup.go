// Package cleanup は利用ログの自動削除ジョブを提供する。
// 保持期間（デフォルト180日）を超過したusage_analyticsの行を日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は利用ログのデフォルト保持日数。
const DefaultRetentionDays = 180

// Pruner は指定日時より古い利用ログを削除するインターフェース。
// repository.PostgresUsageRepoが実装する。
type Pruner interface {
	DeleteUsageBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した利用ログの自動削除ジョブ。
// 削除対象がない場合もエラーにしない。
type CleanupJob struct {
	pruner        Pruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 利用ログの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(pruner Pruner, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		pruner:        pruner,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は保持期間を超過した利用ログを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.pruner.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("利用ログクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("利用ログクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("利用ログクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
