package dsmatch

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"cdn-router/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostMatcher(t *testing.T, ds, pattern string) *Matcher {
	t.Helper()
	m, err := NewMatcher(ds, []snapshot.MatchRule{{Type: "HOST", Pattern: pattern}})
	require.NoError(t, err)
	return m
}

func TestLongerPatternEvaluatedFirst(t *testing.T) {
	short := hostMatcher(t, "short", strings.Repeat("a", 11)+".")
	long := hostMatcher(t, "long", strings.Repeat("a", 23)+".")
	require.Len(t, short.Rules[0].Pattern, 12)
	require.Len(t, long.Rules[0].Pattern, 24)

	for _, order := range [][]*Matcher{{short, long}, {long, short}} {
		s := NewSet(nil, order)
		assert.Equal(t, "long", s.Matchers()[0].DeliveryService)
		ds, _, ok := s.Match(Input{Host: strings.Repeat("a", 30)})
		require.True(t, ok)
		assert.Equal(t, "long", ds)
	}
}

func TestEqualLengthLexicographic(t *testing.T) {
	aab := hostMatcher(t, "ds-aab", "aab")
	aaa := hostMatcher(t, "ds-aaa", "aaa")
	s := NewSet(nil, []*Matcher{aab, aaa})
	assert.Equal(t, "ds-aaa", s.Matchers()[0].DeliveryService)
	assert.Equal(t, "ds-aab", s.Matchers()[1].DeliveryService)
}

func TestNoRuleMatcherSortsLastAndNeverMatches(t *testing.T) {
	empty, err := NewMatcher("empty", nil)
	require.NoError(t, err)
	m := hostMatcher(t, "x", "x")
	s := NewSet(nil, []*Matcher{empty, m})
	assert.Equal(t, "empty", s.Matchers()[1].DeliveryService)
	_, _, ok := s.Match(Input{Host: "nothing"})
	assert.False(t, ok)
}

func TestTiesBrokenByFollowingRulesThenID(t *testing.T) {
	one, _ := NewMatcher("b-one", []snapshot.MatchRule{{Type: "HOST", Pattern: "cdn"}})
	two, _ := NewMatcher("c-two", []snapshot.MatchRule{{Type: "HOST", Pattern: "cdn"}, {Type: "PATH", Pattern: "^/vod/"}})
	dup, _ := NewMatcher("a-one", []snapshot.MatchRule{{Type: "HOST", Pattern: "cdn"}})
	s := NewSet(nil, []*Matcher{one, dup, two})
	var got []string
	for _, m := range s.Matchers() {
		got = append(got, m.DeliveryService)
	}
	assert.Equal(t, []string{"c-two", "a-one", "b-one"}, got)
}

func TestAndSemanticsAndCapture(t *testing.T) {
	m, err := NewMatcher("live", []snapshot.MatchRule{
		{Type: "HOST", Pattern: `^live\.example\.com$`},
		{Type: "PATH", Pattern: `^/ch/(?P<channel>[^/]+)/`, Capture: "channel"},
		{Type: "HEADER", Header: "X-Client", Pattern: "^player"},
	})
	require.NoError(t, err)
	h := http.Header{}
	h.Set("X-Client", "player/2.1")

	c, ok := m.Match(Input{Host: "live.example.com", Path: "/ch/news/seg1.ts", Header: h})
	require.True(t, ok)
	assert.Equal(t, "news", c)

	_, ok = m.Match(Input{Host: "live.example.com", Path: "/ch/news/seg1.ts", Header: http.Header{}})
	assert.False(t, ok)
	_, ok = m.Match(Input{Host: "vod.example.com", Path: "/ch/news/seg1.ts", Header: h})
	assert.False(t, ok)
}

func TestCaptureByIndex(t *testing.T) {
	m, err := NewMatcher("vod", []snapshot.MatchRule{{Type: "PATH", Pattern: `^/v/([a-z0-9]+)\.mp4`, Capture: "1"}})
	require.NoError(t, err)
	c, ok := m.Match(Input{Path: "/v/abc123.mp4"})
	require.True(t, ok)
	assert.Equal(t, "abc123", c)
}

func TestExactFastPath(t *testing.T) {
	m := hostMatcher(t, "pattern-ds", ".*")
	s := NewSet(map[string]string{"Download.Example.com": "exact-ds"}, []*Matcher{m})
	ds, _, ok := s.Match(Input{Host: "download.example.com"})
	require.True(t, ok)
	assert.Equal(t, "exact-ds", ds)
	ds, _, _ = s.Match(Input{Host: "other.example.com"})
	assert.Equal(t, "pattern-ds", ds)
}

func TestNewMatcherErrors(t *testing.T) {
	cases := []struct {
		rule snapshot.MatchRule
		want error
	}{
		{snapshot.MatchRule{Type: "QUERY", Pattern: "x"}, ErrUnknownKind},
		{snapshot.MatchRule{Type: "HEADER", Pattern: "x"}, ErrUnknownKind},
		{snapshot.MatchRule{Type: "PATH", Pattern: "("}, ErrInvalidPattern},
		{snapshot.MatchRule{Type: "PATH", Pattern: "(a)", Capture: "name"}, ErrUnknownCapture},
		{snapshot.MatchRule{Type: "PATH", Pattern: "(a)", Capture: "2"}, ErrUnknownCapture},
	}
	for _, c := range cases {
		_, err := NewMatcher("bad", []snapshot.MatchRule{c.rule})
		assert.True(t, errors.Is(err, c.want), "%+v: %v", c.rule, err)
	}
}
