package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"cdn-router/internal/store"

	"github.com/cespare/xxhash/v2"
)

// Payload：一次拉取的结果；RegionalGeo 为 nil 表示没有规则集可用，保持现有规则
type Payload struct {
	Version            string
	Routing            []byte
	RegionalGeoVersion string
	RegionalGeo        []byte
}

// Source：快照来源
type Source interface {
	Fetch(ctx context.Context) (Payload, error)
}

// FileSource：本地文件；版本号取内容哈希
type FileSource struct {
	SnapshotPath    string
	RegionalGeoPath string
}

func contentVersion(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

func (f FileSource) Fetch(ctx context.Context) (Payload, error) {
	b, err := os.ReadFile(f.SnapshotPath)
	if err != nil {
		return Payload{}, fmt.Errorf("read snapshot: %w", err)
	}
	p := Payload{Version: contentVersion(b), Routing: b}
	if f.RegionalGeoPath == "" {
		return p, nil
	}
	g, err := os.ReadFile(f.RegionalGeoPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p, nil
	case err != nil:
		return Payload{}, fmt.Errorf("read regional geo rules: %w", err)
	}
	p.RegionalGeo, p.RegionalGeoVersion = g, contentVersion(g)
	return p, nil
}

// StoreSource：Postgres 快照存储中各种类的最新版本
type StoreSource struct {
	Store *store.SnapshotStore
}

func (s StoreSource) Fetch(ctx context.Context) (Payload, error) {
	v, body, err := s.Store.Latest(ctx, store.KindRouting)
	if err != nil {
		return Payload{}, err
	}
	p := Payload{Version: v, Routing: body}
	gv, g, err := s.Store.Latest(ctx, store.KindRegionalGeo)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		return p, nil
	case err != nil:
		return Payload{}, err
	}
	p.RegionalGeo, p.RegionalGeoVersion = g, gv
	return p, nil
}
