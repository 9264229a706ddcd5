// 包 migrate：快照存储所需表结构，首次运行时自动创建
package migrate

import (
	"database/sql"

	"cdn-router/internal/logger"
)

// Dialect：自增主键写法随数据库不同，其余语句两者通用
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) serial() string {
	if d == SQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// EnsureSchema：幂等建表
// 约束：全部使用 IF NOT EXISTS，不修改已有结构
func EnsureSchema(db *sql.DB, d Dialect) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _cdn_snapshots (
			id ` + d.serial() + `,
			kind TEXT NOT NULL,
			version TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cdn_snapshots_kind ON _cdn_snapshots(kind, id)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
