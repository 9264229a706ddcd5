package geo

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	network *net.IPNet
	rec     geoip2.City
}

// fakeCity：按声明顺序匹配网段，记录查询次数
type fakeCity struct {
	entries []fakeEntry
	calls   int
	err     error
}

func (f *fakeCity) add(cidr string, lat, lon float64, postal, country string) {
	_, n, _ := net.ParseCIDR(cidr)
	var rec geoip2.City
	rec.Location.Latitude = lat
	rec.Location.Longitude = lon
	rec.Postal.Code = postal
	rec.Country.IsoCode = country
	f.entries = append(f.entries, fakeEntry{network: n, rec: rec})
}

func (f *fakeCity) LookupNetwork(ip net.IP, result any) (*net.IPNet, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	for _, e := range f.entries {
		if e.network.Contains(ip) {
			*result.(*geoip2.City) = e.rec
			return e.network, true, nil
		}
	}
	// 未收录的地址返回其所在的 /8 空网段
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4.Mask(net.CIDRMask(8, 32)), Mask: net.CIDRMask(8, 32)}, false, nil
	}
	return &net.IPNet{IP: ip.Mask(net.CIDRMask(8, 128)), Mask: net.CIDRMask(8, 128)}, false, nil
}

func (f *fakeCity) Close() error { return nil }

func TestLocateCachesWideNetworks(t *testing.T) {
	db := &fakeCity{}
	db.add("10.1.0.0/16", 39.7, -104.9, "80202", "US")
	m := newLocator(db, 16, time.Hour, nil)

	info, ok := m.Locate(net.ParseIP("10.1.2.5"))
	require.True(t, ok)
	assert.Equal(t, Coordinate{Lat: 39.7, Lon: -104.9}, info.Coordinate)
	assert.Equal(t, "80202", info.PostalCode)
	assert.Equal(t, "US", info.Country)
	assert.Equal(t, 1, db.calls)

	// 同一 /24 聚合段命中缓存
	info, ok = m.Locate(net.ParseIP("10.1.2.200"))
	require.True(t, ok)
	assert.Equal(t, "80202", info.PostalCode)
	assert.Equal(t, 1, db.calls)

	_, ok = m.Locate(net.ParseIP("10.1.3.1"))
	assert.True(t, ok)
	assert.Equal(t, 2, db.calls)
}

func TestLocateSkipsCacheForNarrowNetworks(t *testing.T) {
	db := &fakeCity{}
	db.add("10.9.9.0/28", 40.7, -74.0, "10001", "US")
	db.add("10.9.9.0/24", 41.8, -87.6, "60601", "US")
	m := newLocator(db, 16, time.Hour, nil)

	info, ok := m.Locate(net.ParseIP("10.9.9.2"))
	require.True(t, ok)
	assert.Equal(t, "10001", info.PostalCode)

	info, ok = m.Locate(net.ParseIP("10.9.9.100"))
	require.True(t, ok)
	assert.Equal(t, "60601", info.PostalCode)
	assert.Equal(t, 2, db.calls)
}

func TestLocateWithoutCoordinateIsNotFound(t *testing.T) {
	db := &fakeCity{}
	db.add("10.5.0.0/16", 0, 0, "", "US")
	m := newLocator(db, 16, time.Hour, nil)

	info, ok := m.Locate(net.ParseIP("10.5.0.1"))
	assert.False(t, ok)
	assert.Equal(t, "US", info.Country)

	_, ok = m.Locate(net.ParseIP("172.16.0.1"))
	assert.False(t, ok)
	// 未找到的结果同样按聚合段缓存
	_, ok = m.Locate(net.ParseIP("172.16.0.2"))
	assert.False(t, ok)
	assert.Equal(t, 2, db.calls)

	_, ok = m.Locate(nil)
	assert.False(t, ok)
	assert.Equal(t, 2, db.calls)
}

func TestLocateLookupError(t *testing.T) {
	db := &fakeCity{err: errors.New("corrupt database")}
	m := newLocator(db, 16, time.Hour, nil)

	_, ok := m.Locate(net.ParseIP("10.1.2.5"))
	assert.False(t, ok)
	_, ok = m.Locate(net.ParseIP("10.1.2.5"))
	assert.False(t, ok)
	assert.Equal(t, 2, db.calls)
}
