package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"cdn-router/internal/logger"
	"cdn-router/internal/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	states map[string]registry.HealthState
}

func (s *recordingSink) UpdateHealth(id string, h registry.HealthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string]registry.HealthState{}
	}
	s.states[id] = h
}

func (s *recordingSink) get(id string) (registry.HealthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.states[id]
	return h, ok
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestPollAppliesStates(t *testing.T) {
	ctx := context.Background()
	mr, rc := newRedis(t)
	require.NoError(t, Publish(ctx, rc, "cdn:health", "c1", registry.HealthState{Available: true, IPv4Available: true}))
	require.NoError(t, Publish(ctx, rc, "cdn:health", "c2", registry.HealthState{}))
	mr.HSet("cdn:health", "c3", "{not json")

	sink := &recordingSink{}
	p := NewPoller(rc, "cdn:health", time.Second, sink, logger.Discard())
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h, ok := sink.get("c1")
	require.True(t, ok)
	assert.Equal(t, registry.HealthState{Available: true, IPv4Available: true}, h)
	h, _ = sink.get("c2")
	assert.False(t, h.Available)
	_, ok = sink.get("c3")
	assert.False(t, ok)
}

func TestPublishWireFormat(t *testing.T) {
	mr, rc := newRedis(t)
	require.NoError(t, Publish(context.Background(), rc, "k", "edge-1", registry.HealthState{Available: true, IPv6Available: true}))
	assert.JSONEq(t, `{"isAvailable":true,"ipv4Available":false,"ipv6Available":true}`, mr.HGet("k", "edge-1"))
}

func TestPollErrorWhenRedisDown(t *testing.T) {
	mr, rc := newRedis(t)
	mr.Close()
	p := NewPoller(rc, "cdn:health", time.Second, &recordingSink{}, logger.Discard())
	_, err := p.Poll(context.Background())
	assert.Error(t, err)
}

func TestStartPollsUntilCancelled(t *testing.T) {
	_, rc := newRedis(t)
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewPoller(rc, "cdn:health", 20*time.Millisecond, sink, logger.Discard()).Start(ctx)

	require.NoError(t, Publish(ctx, rc, "cdn:health", "late", registry.HealthState{Available: true}))
	assert.Eventually(t, func() bool {
		_, ok := sink.get("late")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
