// Package repository はPostgreSQLに直接接続するテーブルストアを提供する。
// 自前のデータベースを運用する構成（STORE_BACKEND=postgres）で、
// データAPI経由のsupabase.RestClientの代わりに使用する。
package repository

import (
	"context"
	"database/sql"
)

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
