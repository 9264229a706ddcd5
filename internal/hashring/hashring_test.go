package hashring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRing(ids []string, replicas int) *Ring[string] {
	members := make([]Member[string], 0, len(ids))
	for _, id := range ids {
		members = append(members, Member[string]{Owner: id, Points: Points(id, replicas)})
	}
	return New(members)
}

func cacheIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("edge-%02d", i)
	}
	return out
}

func TestHashRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := Hash(fmt.Sprintf("key-%d", i))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
	assert.Equal(t, Hash("same"), Hash("same"))
}

func TestPointsSortedAndDefaultReplicas(t *testing.T) {
	pts := Points("edge-00", 0)
	require.Len(t, pts, DefaultReplicas)
	for i := 1; i < len(pts); i++ {
		assert.Less(t, pts[i-1], pts[i])
	}
	assert.Len(t, Points("edge-00", 10), 10)
	assert.Equal(t, Points("edge-00", 10), Points("edge-00", 10))
}

func TestLookupEmptyRing(t *testing.T) {
	r := New[string](nil)
	_, ok := r.Lookup("/video.m3u8")
	assert.False(t, ok)
	assert.Nil(t, r.Rank("/video.m3u8", 3, nil))
}

func TestLookupDeterministic(t *testing.T) {
	r := buildRing(cacheIDs(8), 100)
	first, ok := r.Lookup("/movies/a.mp4")
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		got, _ := r.Lookup("/movies/a.mp4")
		assert.Equal(t, first, got)
	}
	again := buildRing(cacheIDs(8), 100)
	got, _ := again.Lookup("/movies/a.mp4")
	assert.Equal(t, first, got)
}

func TestRankDistinctAndOrdered(t *testing.T) {
	r := buildRing(cacheIDs(5), 50)
	ranked := r.Rank("/live/channel1.m3u8", 0, nil)
	require.Len(t, ranked, 5)
	seen := map[string]bool{}
	for _, id := range ranked {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	first, _ := r.Lookup("/live/channel1.m3u8")
	assert.Equal(t, first, ranked[0])
	assert.Len(t, r.Rank("/live/channel1.m3u8", 2, nil), 2)
}

func TestRankHonorsAccept(t *testing.T) {
	r := buildRing(cacheIDs(4), 50)
	first, _ := r.Lookup("/a")
	ranked := r.Rank("/a", 1, func(id string) bool { return id != first })
	require.Len(t, ranked, 1)
	assert.NotEqual(t, first, ranked[0])
	assert.Empty(t, r.Rank("/a", 1, func(string) bool { return false }))
}

func TestLoadSpreadOnRemoval(t *testing.T) {
	const keys = 10000
	ids := cacheIDs(10)
	before := buildRing(ids, DefaultReplicas)
	removed := ids[3]
	rest := append(append([]string{}, ids[:3]...), ids[4:]...)
	after := buildRing(rest, DefaultReplicas)

	moved := 0
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("/content/%d.ts", i)
		a, _ := before.Lookup(k)
		b, _ := after.Lookup(k)
		if a != b {
			moved++
			assert.Equal(t, removed, a, "only keys of the removed cache may move")
		}
	}
	assert.InDelta(t, 0.1, float64(moved)/keys, 0.05)
}

func TestLoadSpreadOnAddition(t *testing.T) {
	const keys = 10000
	ids := cacheIDs(11)
	before := buildRing(ids[:10], DefaultReplicas)
	after := buildRing(ids, DefaultReplicas)

	moved := 0
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("/content/%d.ts", i)
		a, _ := before.Lookup(k)
		b, _ := after.Lookup(k)
		if a != b {
			moved++
			assert.Equal(t, ids[10], b, "moved keys must land on the new cache")
		}
	}
	assert.InDelta(t, 1.0/11.0, float64(moved)/keys, 0.05)
}

// 两端不回绕：靠近 1.0 的值落在最大点上，即使环形距离上最小点更近
func TestNearestDoesNotWrapAround(t *testing.T) {
	r := New([]Member[string]{
		{Owner: "low", Points: []float64{0.001}},
		{Owner: "mid", Points: []float64{0.5}},
		{Owner: "high", Points: []float64{0.9}},
	})
	assert.Equal(t, "high", r.owners[r.nearest(0.999)])
	assert.Equal(t, "low", r.owners[r.nearest(0.0)])
	assert.Equal(t, "mid", r.owners[r.nearest(0.6)])
	assert.Equal(t, "high", r.owners[r.nearest(0.71)])
}

func TestNearestSinglePoint(t *testing.T) {
	r := New([]Member[string]{{Owner: "only", Points: []float64{0.3}}})
	assert.Equal(t, 0, r.nearest(0.99))
	assert.Equal(t, 0, r.nearest(0.0))
}
