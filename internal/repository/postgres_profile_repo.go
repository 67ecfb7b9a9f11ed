package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

const profileColumns = `id, email, name, role, college, course, year, resume_url, prep_count, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したprofilesテーブルのストア。
type PostgresProfileRepo struct {
	db DBTX
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db DBTX) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	var college, course, year, resumeURL sql.NullString

	err := row.Scan(
		&p.ID, &p.Email, &p.Name, &role,
		&college, &course, &year, &resumeURL,
		&p.PrepCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Role = model.Role(role)
	p.College = nullStringPtr(college)
	p.Course = nullStringPtr(course)
	p.Year = nullStringPtr(year)
	p.ResumeURL = nullStringPtr(resumeURL)
	return p, nil
}

// FindProfile は指定IDのプロフィールを取得する。見つからない場合はbackend.ErrNotFoundを返す。
func (r *PostgresProfileRepo) FindProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// InsertProfile はプロフィールを作成する。
// handle_new_userトリガーが作成済みの行は、ロール以外をアプリケーションの値で上書きする。
func (r *PostgresProfileRepo) InsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   name = EXCLUDED.name,
		   prep_count = EXCLUDED.prep_count,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Email, p.Name, string(p.Role),
		p.College, p.Course, p.Year, p.ResumeURL,
		p.PrepCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateProfile は指定IDのプロフィールを部分更新する。
// 対象の行が存在しない場合はbackend.ErrNotFoundを返す。
func (r *PostgresProfileRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error {
	query, args := buildProfileUpdate(id, update.Columns(), updatedAt)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile %s: %w", id, backend.ErrNotFound)
	}
	return nil
}

// buildProfileUpdate は更新対象のカラムからUPDATE文を組み立てる。
// カラム名はmodel.ProfileUpdate.Columnsが返す固定の集合に限られる。
func buildProfileUpdate(id string, cols map[string]any, updatedAt time.Time) (string, []any) {
	names := make([]string, 0, len(cols))
	for name := range cols {
		if name == "updated_at" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		args = append(args, cols[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	args = append(args, updatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	return query, args
}

// ListProfiles は全プロフィールをcreated_at降順で返す。
func (r *PostgresProfileRepo) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	profiles := []*model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("プロフィールのスキャンに失敗しました: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// ListPrepCounts は全プロフィールのprep_countを返す。
func (r *PostgresProfileRepo) ListPrepCounts(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT prep_count FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("prep_countの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("prep_countのスキャンに失敗しました: %w", err)
		}
		counts = append(counts, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prep_countの取得に失敗しました: %w", err)
	}
	return counts, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ backend.ProfileStore = (*PostgresProfileRepo)(nil)
