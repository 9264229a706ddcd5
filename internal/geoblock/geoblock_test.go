package geoblock

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesJSON = `{
  "regionalGeoBlocking": [
    {
      "deliveryServiceId": "ds-include",
      "urlRegex": ".*/live/.*",
      "geoLocation": {"includePostalCode": ["N7G", "V5D"]},
      "ipWhiteList": ["10.10.0.0/16", "2001:db8:a::/48"]
    },
    {
      "deliveryServiceId": "ds-exclude",
      "urlRegex": ".*\\.m3u8",
      "geoLocation": {"excludePostalCode": ["N7G"]},
      "redirectUrl": "/alt.m3u8"
    },
    {
      "deliveryServiceId": "ds-exclude",
      "urlRegex": ".*\\.mpd",
      "geoLocation": {"excludePostalCode": ["N7G"]},
      "redirectUrl": "https://blocked.example.com/notice.html"
    },
    {
      "deliveryServiceId": "ds-exclude",
      "urlRegex": ".*\\.ts",
      "geoLocation": {"excludePostalCode": ["N7G"]}
    }
  ]
}`

func mustParse(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := Parse([]byte(rulesJSON))
	require.NoError(t, err)
	return rs
}

func TestDecisionTable(t *testing.T) {
	rs := mustParse(t)
	assert.Equal(t, 4, rs.Len())
	client := net.ParseIP("203.0.113.9")

	cases := []struct {
		name   string
		ds     string
		url    string
		ip     net.IP
		postal string
		want   Result
	}{
		{"include hit", "ds-include", "http://cdn.example.com/live/a.m3u8", client, "N7G", Result{Allowed, "http://cdn.example.com/live/a.m3u8"}},
		{"include prefix with suffix", "ds-include", "http://cdn.example.com/live/a.m3u8", client, " n7g 1a1 ", Result{Allowed, "http://cdn.example.com/live/a.m3u8"}},
		{"include miss", "ds-include", "http://cdn.example.com/live/a.m3u8", client, "K1A", Result{Outcome: Denied}},
		{"include no postal", "ds-include", "http://cdn.example.com/live/a.m3u8", client, "", Result{Outcome: Denied}},
		{"whitelist v4", "ds-include", "http://cdn.example.com/live/a.m3u8", net.ParseIP("10.10.3.4"), "K1A", Result{Allowed, "http://cdn.example.com/live/a.m3u8"}},
		{"whitelist v6", "ds-include", "http://cdn.example.com/live/a.m3u8", net.ParseIP("2001:db8:a::9"), "", Result{Allowed, "http://cdn.example.com/live/a.m3u8"}},
		{"exclude relative alternate", "ds-exclude", "http://cdn.example.com/a.m3u8", client, "N7G", Result{AlternateWithCache, "/alt.m3u8"}},
		{"exclude absent allowed", "ds-exclude", "http://cdn.example.com/a.m3u8", client, "K1A", Result{Allowed, "http://cdn.example.com/a.m3u8"}},
		{"exclude absolute alternate", "ds-exclude", "http://cdn.example.com/a.mpd", client, "N7G", Result{AlternateWithoutCache, "https://blocked.example.com/notice.html"}},
		{"exclude no alternate", "ds-exclude", "http://cdn.example.com/a.ts", client, "N7G", Result{Outcome: Denied}},
		{"no url match", "ds-exclude", "http://cdn.example.com/a.mp4", client, "K1A", Result{Outcome: Denied}},
		{"no rule set", "ds-other", "http://cdn.example.com/live/a.m3u8", client, "N7G", Result{Outcome: Denied}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, rs.Evaluate(c.ds, c.url, c.ip, c.postal))
		})
	}
}

func TestParseRejectsWholeFile(t *testing.T) {
	bad := []string{
		`not json`,
		`{}`,
		`{"regionalGeoBlocking":[{"urlRegex":".*","geoLocation":{"includePostalCode":["A"]}}]}`,
		`{"regionalGeoBlocking":[{"deliveryServiceId":"d","urlRegex":"(","geoLocation":{"includePostalCode":["A"]}}]}`,
		`{"regionalGeoBlocking":[{"deliveryServiceId":"d","urlRegex":".*","geoLocation":{}}]}`,
		`{"regionalGeoBlocking":[{"deliveryServiceId":"d","urlRegex":".*","geoLocation":{"includePostalCode":["A"],"excludePostalCode":["B"]}}]}`,
		`{"regionalGeoBlocking":[{"deliveryServiceId":"d","urlRegex":".*","geoLocation":{"includePostalCode":["A"]},"ipWhiteList":["10.0.0.0/40"]}]}`,
	}
	for _, b := range bad {
		_, err := Parse([]byte(b))
		assert.ErrorIs(t, err, ErrInvalidRule, b)
	}
}

func TestEvaluatorKeepsLastKnownGood(t *testing.T) {
	e := NewEvaluator()
	assert.Equal(t, 0, e.Len())
	assert.Equal(t, Denied, e.Evaluate("ds-include", "http://x/live/a", nil, "N7G").Outcome)

	require.NoError(t, e.Reload([]byte(rulesJSON)))
	assert.Equal(t, 4, e.Len())
	assert.Equal(t, Allowed, e.Evaluate("ds-include", "http://x/live/a", nil, "N7G").Outcome)

	assert.Error(t, e.Reload([]byte(`{"regionalGeoBlocking":[{"deliveryServiceId":"d"}]}`)))
	assert.Equal(t, 4, e.Len())
	assert.Equal(t, Allowed, e.Evaluate("ds-include", "http://x/live/a", nil, "N7G").Outcome)
}

func TestNormalizePostal(t *testing.T) {
	assert.Equal(t, "N7G1A1", NormalizePostal("  n7g 1a1\t"))
	assert.Equal(t, "", NormalizePostal("   "))
	assert.Equal(t, "DENIED", Denied.String())
	assert.Equal(t, "ALTERNATE_WITH_CACHE", AlternateWithCache.String())
}
