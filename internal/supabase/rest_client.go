package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

const (
	profilesPath  = "/rest/v1/profiles"
	analyticsPath = "/rest/v1/usage_analytics"

	// singleObjectMediaType は1行のみを返すよう要求するAcceptヘッダー。
	// 該当行がない場合は406が返る。
	singleObjectMediaType = "application/vnd.pgrst.object+json"
)

// TokenSource はデータAPI呼び出し時に使うアクセストークンを提供する。
// 空文字列を返した場合は公開APIキーで呼び出す。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RestClient はprofilesテーブルとusage_analyticsテーブルをデータAPI経由で操作する。
// 行レベルセキュリティはログイン中ユーザーのアクセストークンで評価される。
type RestClient struct {
	t      *transport
	tokens TokenSource
}

var (
	_ backend.ProfileStore   = (*RestClient)(nil)
	_ backend.AnalyticsStore = (*RestClient)(nil)
)

// NewRestClient はRestClientを生成する。tokensがnilの場合は常に公開APIキーを使う。
func NewRestClient(cfg Config, tokens TokenSource) (*RestClient, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &RestClient{t: t, tokens: tokens}, nil
}

func (c *RestClient) bearer(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve access token: %w", err)
	}
	return token, nil
}

// FindProfile は指定IDのプロフィールを取得する。見つからない場合はbackend.ErrNotFoundを返す。
func (c *RestClient) FindProfile(ctx context.Context, id string) (*model.Profile, error) {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var profile model.Profile
	err = c.t.do(ctx, request{
		method:  http.MethodGet,
		path:    profilesPath,
		query:   url.Values{"select": {"*"}, "id": {"eq." + id}},
		bearer:  bearer,
		headers: map[string]string{"Accept": singleObjectMediaType},
	}, &profile)
	if err != nil {
		if StatusOf(err) == http.StatusNotAcceptable {
			return nil, fmt.Errorf("profile %s: %w", id, backend.ErrNotFound)
		}
		return nil, err
	}
	return &profile, nil
}

// RequiresSession はbackend.SessionScopedを実装する。
// データAPIへの書き込みは常にログインユーザーのトークンで認可される。
func (c *RestClient) RequiresSession() bool { return true }

// InsertProfile はプロフィールを作成する。
// handle_new_userトリガーが作成済みの行はアプリケーションの値で上書きする。
func (c *RestClient) InsertProfile(ctx context.Context, profile *model.Profile) error {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	return c.t.do(ctx, request{
		method:  http.MethodPost,
		path:    profilesPath,
		query:   url.Values{"on_conflict": {"id"}},
		body:    profile,
		bearer:  bearer,
		headers: map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"},
	}, nil)
}

// UpdateProfile は指定IDのプロフィールを部分更新する。
// 更新対象の行がない（または行レベルセキュリティで見えない）場合はbackend.ErrNotFoundを返す。
func (c *RestClient) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	cols := update.Columns()
	cols["updated_at"] = updatedAt.UTC()

	var rows []struct {
		ID string `json:"id"`
	}
	err = c.t.do(ctx, request{
		method:  http.MethodPatch,
		path:    profilesPath,
		query:   url.Values{"id": {"eq." + id}, "select": {"id"}},
		body:    cols,
		bearer:  bearer,
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("profile %s: %w", id, backend.ErrNotFound)
	}
	return nil
}

// ListProfiles は全プロフィールをcreated_at降順で返す。
func (c *RestClient) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	profiles := []*model.Profile{}
	err = c.t.do(ctx, request{
		method: http.MethodGet,
		path:   profilesPath,
		query:  url.Values{"select": {"*"}, "order": {"created_at.desc"}},
		bearer: bearer,
	}, &profiles)
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// ListPrepCounts は全プロフィールのprep_countを返す。
func (c *RestClient) ListPrepCounts(ctx context.Context) ([]int, error) {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		PrepCount int `json:"prep_count"`
	}
	err = c.t.do(ctx, request{
		method: http.MethodGet,
		path:   profilesPath,
		query:  url.Values{"select": {"prep_count"}},
		bearer: bearer,
	}, &rows)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(rows))
	for i, r := range rows {
		counts[i] = r.PrepCount
	}
	return counts, nil
}

// InsertUsage は利用ログを1件記録する。IDが空の場合は採番する。
func (c *RestClient) InsertUsage(ctx context.Context, event *model.UsageEvent) error {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}

	return c.t.do(ctx, request{
		method:  http.MethodPost,
		path:    analyticsPath,
		body:    event,
		bearer:  bearer,
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
}

// usageRow は利用ログとprofilesの埋め込みリソース。
type usageRow struct {
	model.UsageEvent
	Profiles *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"profiles"`
}

// ListRecentUsage は利用ログをcreated_at降順で最大limit件、ユーザー名とメールアドレス付きで返す。
func (c *RestClient) ListRecentUsage(ctx context.Context, limit int) ([]*model.UsageEventWithProfile, error) {
	bearer, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []usageRow
	err = c.t.do(ctx, request{
		method: http.MethodGet,
		path:   analyticsPath,
		query: url.Values{
			"select": {"*,profiles(name,email)"},
			"order":  {"created_at.desc"},
			"limit":  {strconv.Itoa(limit)},
		},
		bearer: bearer,
	}, &rows)
	if err != nil {
		return nil, err
	}

	events := make([]*model.UsageEventWithProfile, 0, len(rows))
	for _, r := range rows {
		e := &model.UsageEventWithProfile{UsageEvent: r.UsageEvent}
		if r.Profiles != nil {
			e.ProfileName = r.Profiles.Name
			e.ProfileEmail = r.Profiles.Email
		}
		events = append(events, e)
	}
	return events, nil
}
