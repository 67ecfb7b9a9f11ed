package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/hirescout/internal/config"
	"github.com/hitoshi/hirescout/internal/contact"
	"github.com/hitoshi/hirescout/internal/database"
	"github.com/hitoshi/hirescout/internal/queue"
	"github.com/hitoshi/hirescout/internal/repository"
	"github.com/hitoshi/hirescout/internal/worker/cleanup"
)

// cleanupInterval は利用ログ削除ジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// runWorker はワーカーモードで起動する。
// 利用ログの保持期間切れ削除を日次で行い、AMQP_URLが設定されていれば問い合わせキューを購読する。
func runWorker(cfg *config.Config) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.Ping(ctx, db); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresUsageRepo(db), slog.Default())
	if cfg.AnalyticsRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.AnalyticsRetentionDays
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			slog.Info("shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("worker starting",
		slog.Int("retention_days", cleanupJob.RetentionDays),
		slog.Bool("contact_consumer", cfg.AMQPURL != ""),
	)

	var wg sync.WaitGroup

	// 3. 問い合わせキューの購読
	if cfg.AMQPURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queue.Consume(ctx, cfg.AMQPURL, queue.ContactQueue, contact.LogHandler(slog.Default()), slog.Default()); err != nil {
				slog.Error("contact consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// 起動直後に1回実行し、以降は日次で実行する
	cleanupJob.Start(ctx, cleanupInterval)

	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}
