package registry

import (
	"sort"
	"sync"

	"cdn-router/internal/geo"
	"cdn-router/internal/hashring"
	"cdn-router/internal/snapshot"
)

// Location：缓存地点及其一致性哈希环
// 约束：普通地点构建时即填充缓存；深度覆盖区地点在首次访问时按需填充，sync.Once 保证只填充一次
type Location struct {
	ID                string
	Coordinate        geo.Coordinate
	Backups           []string
	FallbackToClosest bool

	methods map[string]bool
	caches  []*Cache
	ring    *hashring.Ring[*Cache]

	deepOnce   sync.Once
	deepIDs    []string
	deepSource map[string]*Cache
}

// Enabled：是否启用该定位方式
func (l *Location) Enabled(method string) bool { return l.methods[method] }

// Caches：按 id 排序的缓存，只读
func (l *Location) Caches() []*Cache {
	l.populate()
	return l.caches
}

// Ring：覆盖该地点全部缓存的环
func (l *Location) Ring() *hashring.Ring[*Cache] {
	l.populate()
	return l.ring
}

func (l *Location) populate() {
	if l.deepSource == nil {
		return
	}
	l.deepOnce.Do(func() {
		var cs []*Cache
		seen := make(map[string]bool, len(l.deepIDs))
		for _, id := range l.deepIDs {
			if c, ok := l.deepSource[id]; ok && !seen[id] {
				seen[id] = true
				cs = append(cs, c)
			}
		}
		l.setCaches(cs)
	})
}

func (l *Location) setCaches(cs []*Cache) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	members := make([]hashring.Member[*Cache], 0, len(cs))
	for _, c := range cs {
		members = append(members, hashring.Member[*Cache]{Owner: c, Points: c.Points})
	}
	l.caches = cs
	l.ring = hashring.New(members)
}

func newMethods(names []string) map[string]bool {
	m := map[string]bool{}
	if len(names) == 0 {
		m[snapshot.MethodDeepCZ] = true
		m[snapshot.MethodCZ] = true
		m[snapshot.MethodGeo] = true
		return m
	}
	for _, n := range names {
		m[n] = true
	}
	return m
}
