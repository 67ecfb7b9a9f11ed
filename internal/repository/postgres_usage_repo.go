package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// PostgresUsageRepo はPostgreSQLを使用したusage_analyticsテーブルのストア。
type PostgresUsageRepo struct {
	db DBTX
}

// NewPostgresUsageRepo はPostgresUsageRepoを生成する。
func NewPostgresUsageRepo(db DBTX) *PostgresUsageRepo {
	return &PostgresUsageRepo{db: db}
}

// InsertUsage は利用ログを1件記録する。IDが空の場合は採番し、作成日時が未設定の場合は現在時刻を使う。
func (r *PostgresUsageRepo) InsertUsage(ctx context.Context, event *model.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("detailsのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO usage_analytics (id, user_id, action, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.UserID, event.Action, payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("利用ログの記録に失敗しました: %w", err)
	}
	return nil
}

// ListRecentUsage は利用ログをcreated_at降順で最大limit件、ユーザー名とメールアドレス付きで返す。
func (r *PostgresUsageRepo) ListRecentUsage(ctx context.Context, limit int) ([]*model.UsageEventWithProfile, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.user_id, u.action, u.details, u.created_at,
		        COALESCE(p.name, ''), COALESCE(p.email, '')
		 FROM usage_analytics u
		 LEFT JOIN profiles p ON p.id = u.user_id
		 ORDER BY u.created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("利用ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	events := []*model.UsageEventWithProfile{}
	for rows.Next() {
		e := &model.UsageEventWithProfile{}
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &details, &e.CreatedAt,
			&e.ProfileName, &e.ProfileEmail,
		); err != nil {
			return nil, fmt.Errorf("利用ログのスキャンに失敗しました: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("detailsのパースに失敗しました: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("利用ログの取得に失敗しました: %w", err)
	}
	return events, nil
}

// DeleteUsageBefore は指定日時より前に作成された利用ログを削除し、削除件数を返す。
func (r *PostgresUsageRepo) DeleteUsageBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM usage_analytics WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古い利用ログの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ backend.AnalyticsStore = (*PostgresUsageRepo)(nil)
