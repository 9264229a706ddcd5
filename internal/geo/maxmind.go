package geo

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"cdn-router/internal/logger"
	"cdn-router/internal/metrics"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// MaxMindLocator：基于 MaxMind City 库的定位器
// 约束：结果按客户端聚合网段缓存（IPv4 /24，IPv6 /48）
type MaxMindLocator struct {
	db    cityReader
	cache *LRU[cachedInfo]
	log   *slog.Logger
}

// cityReader：*maxminddb.Reader 中定位器用到的部分
type cityReader interface {
	LookupNetwork(ip net.IP, result any) (*net.IPNet, bool, error)
	Close() error
}

type cachedInfo struct {
	info Info
	ok   bool
}

// OpenMaxMind：打开数据库文件
func OpenMaxMind(path string, cacheSize int, ttl time.Duration, l *slog.Logger) (*MaxMindLocator, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo db %s: %w", path, err)
	}
	return newLocator(db, cacheSize, ttl, l), nil
}

func newLocator(db cityReader, cacheSize int, ttl time.Duration, l *slog.Logger) *MaxMindLocator {
	if l == nil {
		l = logger.Discard()
	}
	return &MaxMindLocator{db: db, cache: NewLRU[cachedInfo](cacheSize, ttl), log: l}
}

// Locate：先查缓存，未命中时 LookupNetwork 解码 geoip2.City
func (m *MaxMindLocator) Locate(ip net.IP) (Info, bool) {
	if ip == nil {
		return Info{}, false
	}
	key := aggregate(ip)
	if v, ok := m.cache.Get(key); ok {
		metrics.GeoCacheHitsTotal.Inc()
		return v.info, v.ok
	}
	metrics.GeoCacheMissesTotal.Inc()
	var rec geoip2.City
	network, found, err := m.db.LookupNetwork(ip, &rec)
	if err != nil {
		m.log.Warn("geo_lookup_error", "ip", ip.String(), "err", err)
		return Info{}, false
	}
	info := Info{
		Coordinate: Coordinate{Lat: rec.Location.Latitude, Lon: rec.Location.Longitude},
		PostalCode: rec.Postal.Code,
		Country:    rec.Country.IsoCode,
	}
	ok := found && (rec.Location.Latitude != 0 || rec.Location.Longitude != 0)
	// 数据库网段比聚合网段更细时不缓存，避免同一聚合段内的地址互相覆盖
	if network != nil && coversAggregate(network) {
		m.cache.Set(key, cachedInfo{info: info, ok: ok})
	}
	return info, ok
}

// aggregate：IPv4 聚合到 /24，IPv6 聚合到 /48
func aggregate(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

func coversAggregate(network *net.IPNet) bool {
	ones, bits := network.Mask.Size()
	if bits == 32 {
		return ones <= 24
	}
	return ones <= 48
}

// Close：关闭数据库
func (m *MaxMindLocator) Close() error { return m.db.Close() }
