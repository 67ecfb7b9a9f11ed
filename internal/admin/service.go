// Package admin は管理画面のドメインロジックを提供する。
// 呼び出し元が管理者であることの確認はハンドラー層で行う。
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// RecentUsageLimit は利用状況一覧で返す最大件数。
const RecentUsageLimit = 100

// Stats は管理画面の集計値。
type Stats struct {
	TotalUsers   int     `json:"totalUsers"`
	TotalPreps   int     `json:"totalPreps"`
	AveragePreps float64 `json:"averagePreps"`
	ActiveUsers  int     `json:"activeUsers"` // クレジットを1回以上使用したユーザー数
}

// NewAdminRequest は管理者アカウント作成のリクエスト。
type NewAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Service は管理画面のサービス層。
type Service struct {
	profiles  backend.ProfileStore
	analytics backend.AnalyticsStore
	accounts  backend.AccountCreator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(b backend.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles:  b.Profiles,
		analytics: b.Analytics,
		accounts:  b.Accounts,
		logger:    logger,
		now:       time.Now,
	}
}

// ListUsers は全ユーザーのプロフィールを作成日時の新しい順に返す。
func (s *Service) ListUsers(ctx context.Context) ([]*model.Profile, error) {
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if profiles == nil {
		profiles = []*model.Profile{}
	}
	return profiles, nil
}

// ListUsage は直近の利用ログをユーザー名・メールアドレス付きで返す。
func (s *Service) ListUsage(ctx context.Context) ([]*model.UsageEventWithProfile, error) {
	events, err := s.analytics.ListRecentUsage(ctx, RecentUsageLimit)
	if err != nil {
		return nil, fmt.Errorf("利用ログの取得に失敗しました: %w", err)
	}
	if events == nil {
		events = []*model.UsageEventWithProfile{}
	}
	return events, nil
}

// Stats は全ユーザーのクレジット残数から集計値を計算する。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.profiles.ListPrepCounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("集計に失敗しました: %w", err)
	}
	return computeStats(counts), nil
}

func computeStats(counts []int) Stats {
	st := Stats{TotalUsers: len(counts)}
	for _, c := range counts {
		st.TotalPreps += c
		if c < model.DefaultPrepCount {
			st.ActiveUsers++
		}
	}
	if st.TotalUsers > 0 {
		avg := float64(st.TotalPreps) / float64(st.TotalUsers)
		st.AveragePreps = math.Round(avg*100) / 100
	}
	return st
}

// CreateAdmin は管理者アカウントとロールadminのプロフィールを作成する。
// 呼び出し元のログイン状態には影響しない。
func (s *Service) CreateAdmin(ctx context.Context, req NewAdminRequest) (*model.Profile, error) {
	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || req.Password == "" || name == "" {
		return nil, model.NewMissingFieldsError()
	}

	identity, err := s.accounts.CreateAccount(ctx, email, req.Password, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}

	profile := model.NewProfile(model.Identity{ID: identity.ID, Email: email}, name, model.RoleAdmin, 0, s.now())
	if err := s.profiles.InsertProfile(ctx, &profile); err != nil {
		return nil, err
	}

	s.logger.Info("管理者アカウントを作成しました",
		slog.String("user_id", profile.ID),
		slog.String("email", profile.Email),
	)
	return &profile, nil
}

// SetPrepCount はユーザーのクレジット残数を設定する。
func (s *Service) SetPrepCount(ctx context.Context, userID string, count int) error {
	if count < 0 {
		return model.NewInvalidPrepCountError(count)
	}
	update := model.ProfileUpdate{PrepCount: &count}
	if err := s.profiles.UpdateProfile(ctx, userID, update, s.now()); err != nil {
		return err
	}
	s.logger.Info("クレジット残数を更新しました",
		slog.String("user_id", userID),
		slog.Int("prep_count", count),
	)
	return nil
}
