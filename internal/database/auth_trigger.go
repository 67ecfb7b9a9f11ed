package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// NewUserTriggerSQL はauth.usersへのユーザー追加時にprofilesの行を作成する関数とトリガー。
// データAPIのみで運用する場合はSupabaseのSQLエディタでこの内容を実行する。
//
//go:embed supabase/handle_new_user.sql
var NewUserTriggerSQL string

// InstallNewUserTrigger はauth.usersが存在するデータベースにhandle_new_userトリガーを作成する。
// 認証スキーマを持たないPostgreSQLでは何もせずfalseを返す。何度実行しても結果は同じ。
func InstallNewUserTrigger(ctx context.Context, db *sql.DB) (bool, error) {
	var table sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('auth.users')::text`).Scan(&table); err != nil {
		return false, fmt.Errorf("failed to look up auth.users: %w", err)
	}
	if !table.Valid {
		return false, nil
	}

	if _, err := db.ExecContext(ctx, NewUserTriggerSQL); err != nil {
		return false, fmt.Errorf("failed to install new user trigger: %w", err)
	}
	return true, nil
}
