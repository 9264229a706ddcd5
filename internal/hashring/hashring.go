// 包 hashring：一致性哈希环，把缓存身份与请求键映射到同一数值空间并选出最近的缓存
package hashring

import (
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultReplicas：每个缓存默认的环上点数
const DefaultReplicas = 1000

// Hash：把字符串映射到 [0,1) 区间
// 约束：取 xxhash64 高 53 位，保证 float64 可精确表示；同一输入在任意进程内结果一致
func Hash(s string) float64 {
	return float64(xxhash.Sum64String(s)>>11) / float64(uint64(1)<<53)
}

// Points：按 identity--i 生成 replicas 个点，去重后升序返回
// 约束：replicas<=0 时使用 DefaultReplicas
func Points(identity string, replicas int) []float64 {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	out := make([]float64, 0, replicas)
	seen := make(map[float64]struct{}, replicas)
	for i := 0; i < replicas; i++ {
		v := Hash(identity + "--" + strconv.Itoa(i))
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// Member：环成员及其点集合
type Member[T comparable] struct {
	Owner  T
	Points []float64
}

// Ring：所有成员点的并集，每个点标记归属成员
// 约束：构建后只读，可被任意数量的请求协程并发查询
type Ring[T comparable] struct {
	values []float64
	owners []T
}

type point[T comparable] struct {
	v     float64
	owner T
	order int
}

// New：按 (点值, 成员顺序) 排序构建环；成员顺序决定同值点的先后
func New[T comparable](members []Member[T]) *Ring[T] {
	n := 0
	for _, m := range members {
		n += len(m.Points)
	}
	pts := make([]point[T], 0, n)
	for i, m := range members {
		for _, v := range m.Points {
			pts = append(pts, point[T]{v: v, owner: m.Owner, order: i})
		}
	}
	sort.Slice(pts, func(a, b int) bool {
		if pts[a].v != pts[b].v {
			return pts[a].v < pts[b].v
		}
		return pts[a].order < pts[b].order
	})
	r := &Ring[T]{values: make([]float64, len(pts)), owners: make([]T, len(pts))}
	for i, p := range pts {
		r.values[i] = p.v
		r.owners[i] = p.owner
	}
	return r
}

// Len：环上点数
func (r *Ring[T]) Len() int { return len(r.values) }

// Lookup：返回距离 key 哈希值最近的点的归属成员；空环返回 false
func (r *Ring[T]) Lookup(key string) (T, bool) {
	var zero T
	i := r.nearest(Hash(key))
	if i < 0 {
		return zero, false
	}
	return r.owners[i], true
}

// Rank：从最近点向两侧扩展，返回最多 n 个互不相同且被 accept 接受的成员
// 约束：n<=0 表示不限数量；accept 为 nil 表示全部接受；同距离时左侧优先
func (r *Ring[T]) Rank(key string, n int, accept func(T) bool) []T {
	c := r.nearest(Hash(key))
	if c < 0 {
		return nil
	}
	v := Hash(key)
	var out []T
	seen := make(map[T]struct{})
	take := func(i int) bool {
		o := r.owners[i]
		if _, ok := seen[o]; ok {
			return false
		}
		seen[o] = struct{}{}
		if accept != nil && !accept(o) {
			return false
		}
		out = append(out, o)
		return n > 0 && len(out) >= n
	}
	if take(c) {
		return out
	}
	l, h := c-1, c+1
	for l >= 0 || h < len(r.values) {
		var i int
		switch {
		case l < 0:
			i, h = h, h+1
		case h >= len(r.values):
			i, l = l, l-1
		case math.Abs(r.values[l]-v) <= math.Abs(r.values[h]-v):
			i, l = l, l-1
		default:
			i, h = h, h+1
		}
		if take(i) {
			break
		}
	}
	return out
}

// nearest：收缩式二分查找，比较左右邻居距离并向更近的一侧移动，直到两侧都不更近
// 约束：不在有序序列两端回绕，越过末端的键总是落在端点上；迭代次数以环大小为上限
func (r *Ring[T]) nearest(v float64) int {
	n := len(r.values)
	if n == 0 {
		return -1
	}
	lo, hi := 0, n-1
	for iter := 0; iter < n && lo <= hi; iter++ {
		mid := lo + (hi-lo)/2
		d := math.Abs(r.values[mid] - v)
		switch {
		case mid > 0 && math.Abs(r.values[mid-1]-v) < d:
			hi = mid - 1
		case mid < n-1 && math.Abs(r.values[mid+1]-v) < d:
			lo = mid + 1
		default:
			return mid
		}
	}
	if lo > n-1 {
		lo = n - 1
	}
	return lo
}
