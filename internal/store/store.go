// 包 store：配置快照的持久化，按种类保存历史版本并读取最新版本
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cdn-router/internal/logger"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

// 快照种类
const (
	KindRouting     = "routing"
	KindRegionalGeo = "regional_geo"
)

// Record：一条历史快照的元数据
type Record struct {
	ID        int64
	Kind      string
	Version   string
	CreatedAt time.Time
}

// SnapshotStore：持有连接池；表结构由 migrate.EnsureSchema 创建
type SnapshotStore struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *SnapshotStore { return &SnapshotStore{db: db} }

func (s *SnapshotStore) DB() *sql.DB { return s.db }

// Save：追加一个版本
func (s *SnapshotStore) Save(ctx context.Context, kind, version string, body []byte) error {
	if kind == "" || version == "" {
		return fmt.Errorf("save snapshot: kind and version required")
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO _cdn_snapshots(kind, version, body) VALUES($1, $2, $3)", kind, version, string(body))
	if err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", kind, version, err)
	}
	logger.L().Debug("snapshot_saved", "kind", kind, "version", version, "bytes", len(body))
	return nil
}

// Latest：最近保存的版本；没有记录时返回 ErrNoSnapshot
func (s *SnapshotStore) Latest(ctx context.Context, kind string) (string, []byte, error) {
	row := s.db.QueryRowContext(ctx, "SELECT version, body FROM _cdn_snapshots WHERE kind=$1 ORDER BY id DESC LIMIT 1", kind)
	var version, body string
	if err := row.Scan(&version, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrNoSnapshot
		}
		return "", nil, fmt.Errorf("latest snapshot %s: %w", kind, err)
	}
	return version, []byte(body), nil
}

// History：按新到旧列出最多 limit 条
func (s *SnapshotStore) History(ctx context.Context, kind string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, version, created_at FROM _cdn_snapshots WHERE kind=$1 ORDER BY id DESC LIMIT $2", kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Version, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune：只保留最新的 keep 个版本，返回删除条数
func (s *SnapshotStore) Prune(ctx context.Context, kind string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM _cdn_snapshots WHERE kind=$1 AND id NOT IN (SELECT id FROM _cdn_snapshots WHERE kind=$2 ORDER BY id DESC LIMIT $3)",
		kind, kind, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
