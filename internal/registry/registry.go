// 包 registry：一次配置快照构建出的不可变缓存注册表
// 背景：配置在热路径之外整体构建，再由路由器原子替换；构建时逐实体校验，坏实体跳过并收集错误，其余照常发布
package registry

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"cdn-router/internal/cidr"
	"cdn-router/internal/dsmatch"
	"cdn-router/internal/geo"
	"cdn-router/internal/hashring"
	"cdn-router/internal/snapshot"
)

// DeliveryService：交付服务的路由相关属性
type DeliveryService struct {
	ID                   string
	Protocol             string
	FQDN                 string
	RequiredCapabilities []string
	QueryKeys            []string
	CoverageZoneOnly     bool
	DeepCaching          bool
	RegionalGeoBlocking  bool
	MissCoordinate       *geo.Coordinate
	MaxDNSIPs            int
}

// Options：构建参数；Replicas 为缓存未声明副本数时的默认值
type Options struct {
	Replicas int
}

// Registry：根对象，构建后只读
type Registry struct {
	Version string

	locations     map[string]*Location
	locationList  []*Location
	caches        map[string]*Cache
	cacheList     []*Cache
	services      map[string]*DeliveryService
	matchers      *dsmatch.Set
	cz            *cidr.Index
	deepCZ        *cidr.Index
	deepLocations map[string]*Location
}

func (r *Registry) Location(id string) (*Location, bool) {
	l, ok := r.locations[id]
	return l, ok
}

// Locations：按 id 排序
func (r *Registry) Locations() []*Location { return r.locationList }

func (r *Registry) Cache(id string) (*Cache, bool) {
	c, ok := r.caches[id]
	return c, ok
}

// Caches：按 id 排序
func (r *Registry) Caches() []*Cache { return r.cacheList }

func (r *Registry) DeliveryService(id string) (*DeliveryService, bool) {
	ds, ok := r.services[id]
	return ds, ok
}

func (r *Registry) DeliveryServiceCount() int { return len(r.services) }

// Match：交付服务分类
func (r *Registry) Match(in dsmatch.Input) (*DeliveryService, string, bool) {
	id, capture, ok := r.matchers.Match(in)
	if !ok {
		return nil, "", false
	}
	ds, ok := r.services[id]
	return ds, capture, ok
}

// CoverageZone：覆盖区命中的地点
func (r *Registry) CoverageZone(ip net.IP) (*Location, bool) {
	n, ok := r.cz.Lookup(ip)
	if !ok {
		return nil, false
	}
	l, ok := r.locations[n.Location]
	return l, ok
}

// DeepCoverageZone：深度覆盖区命中的地点，缓存集合在首次访问时填充
func (r *Registry) DeepCoverageZone(ip net.IP) (*Location, bool) {
	n, ok := r.deepCZ.Lookup(ip)
	if !ok {
		return nil, false
	}
	l, ok := r.deepLocations[n.Location]
	return l, ok
}

// Build：由快照构建注册表
// 约束：返回的错误均为单实体错误，注册表仍然可用；cfg 为 nil 时返回 nil 注册表
func Build(cfg *snapshot.Config, opts Options) (*Registry, []error) {
	if cfg == nil {
		return nil, []error{snapshot.ErrNilSnapshot}
	}
	b := &builder{opts: opts, r: &Registry{
		Version:       cfg.Version,
		locations:     map[string]*Location{},
		caches:        map[string]*Cache{},
		services:      map[string]*DeliveryService{},
		cz:            cidr.NewIndex(),
		deepCZ:        cidr.NewIndex(),
		deepLocations: map[string]*Location{},
	}}
	b.deliveryServices(cfg.DeliveryServices)
	b.locationsFrom(cfg.Locations)
	b.cachesFrom(cfg.Caches)
	b.coverageZones(cfg.CoverageZones)
	b.deepCoverageZones(cfg.DeepCoverageZones)
	b.finish()
	return b.r, b.errs
}

type builder struct {
	opts     Options
	r        *Registry
	errs     []error
	matchers []*dsmatch.Matcher
	exact    map[string]string
	members  map[string][]*Cache
}

func (b *builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *builder) deliveryServices(in []snapshot.DeliveryService) {
	b.exact = map[string]string{}
	for _, d := range in {
		if d.ID == "" {
			b.fail("delivery service without id")
			continue
		}
		if _, dup := b.r.services[d.ID]; dup {
			b.fail("delivery service %s: duplicate id", d.ID)
			continue
		}
		proto := strings.ToUpper(d.Protocol)
		if proto == "" {
			proto = snapshot.ProtocolHTTP
		}
		if proto != snapshot.ProtocolHTTP && proto != snapshot.ProtocolDNS {
			b.fail("delivery service %s: unknown protocol %q", d.ID, d.Protocol)
			continue
		}
		if d.MissCoordinate != nil && !d.MissCoordinate.Valid() {
			b.fail("delivery service %s: invalid miss coordinate %+v", d.ID, *d.MissCoordinate)
			continue
		}
		fqdn := strings.ToLower(strings.TrimSuffix(d.FQDN, "."))
		if fqdn != "" && !validFQDN(fqdn) {
			b.fail("delivery service %s: invalid fqdn %q", d.ID, d.FQDN)
			continue
		}
		m, err := dsmatch.NewMatcher(d.ID, d.Matchers)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		if fqdn != "" {
			if other, taken := b.exact[fqdn]; taken {
				b.fail("delivery service %s: fqdn %s already used by %s", d.ID, fqdn, other)
				continue
			}
			b.exact[fqdn] = d.ID
		}
		keys := append([]string(nil), d.QueryKeys...)
		sort.Strings(keys)
		b.r.services[d.ID] = &DeliveryService{
			ID:                   d.ID,
			Protocol:             proto,
			FQDN:                 fqdn,
			RequiredCapabilities: append([]string(nil), d.RequiredCapabilities...),
			QueryKeys:            keys,
			CoverageZoneOnly:     d.CoverageZoneOnly,
			DeepCaching:          d.DeepCaching,
			RegionalGeoBlocking:  d.RegionalGeoBlocking,
			MissCoordinate:       d.MissCoordinate,
			MaxDNSIPs:            d.MaxDNSIPs,
		}
		b.matchers = append(b.matchers, m)
	}
}

func (b *builder) locationsFrom(in []snapshot.Location) {
	for _, l := range in {
		if l.ID == "" {
			b.fail("location without id")
			continue
		}
		if _, dup := b.r.locations[l.ID]; dup {
			b.fail("location %s: duplicate id", l.ID)
			continue
		}
		if !l.Coordinate.Valid() {
			b.fail("location %s: invalid coordinate %+v", l.ID, l.Coordinate)
			continue
		}
		bad := ""
		for _, m := range l.Methods {
			if m != snapshot.MethodDeepCZ && m != snapshot.MethodCZ && m != snapshot.MethodGeo {
				bad = m
				break
			}
		}
		if bad != "" {
			b.fail("location %s: unknown localization method %q", l.ID, bad)
			continue
		}
		b.r.locations[l.ID] = &Location{
			ID:                l.ID,
			Coordinate:        l.Coordinate,
			Backups:           append([]string(nil), l.Backups...),
			FallbackToClosest: l.FallbackToClosest,
			methods:           newMethods(l.Methods),
		}
	}
	// 备份引用在全部地点就位后校验，未知或自引用的备份被丢弃
	for _, l := range b.r.locations {
		kept := l.Backups[:0]
		for _, id := range l.Backups {
			if _, ok := b.r.locations[id]; !ok || id == l.ID {
				b.fail("location %s: unknown backup location %q", l.ID, id)
				continue
			}
			kept = append(kept, id)
		}
		l.Backups = kept
	}
}

func (b *builder) cachesFrom(in []snapshot.Cache) {
	b.members = map[string][]*Cache{}
	for _, c := range in {
		if c.ID == "" {
			b.fail("cache without id")
			continue
		}
		if _, dup := b.r.caches[c.ID]; dup {
			b.fail("cache %s: duplicate id", c.ID)
			continue
		}
		if _, ok := b.r.locations[c.Location]; !ok {
			b.fail("cache %s: unknown location %q", c.ID, c.Location)
			continue
		}
		if c.FQDN != "" && !validFQDN(strings.ToLower(strings.TrimSuffix(c.FQDN, "."))) {
			b.fail("cache %s: invalid fqdn %q", c.ID, c.FQDN)
			continue
		}
		v4, v6, err := parseAddrs(c.IPv4, c.IPv6)
		if err != nil {
			b.fail("cache %s: %v", c.ID, err)
			continue
		}
		hashID := c.HashID
		if hashID == "" {
			hashID = c.ID
		}
		replicas := c.Replicas
		if replicas <= 0 {
			replicas = b.opts.Replicas
		}
		caps := make(map[string]struct{}, len(c.Capabilities))
		for _, k := range c.Capabilities {
			caps[k] = struct{}{}
		}
		refs := make(map[string]string, len(c.DeliveryServices))
		for ds, fqdn := range c.DeliveryServices {
			if _, ok := b.r.services[ds]; !ok {
				b.fail("cache %s: unknown delivery service %q", c.ID, ds)
				continue
			}
			fqdn = strings.ToLower(strings.TrimSuffix(fqdn, "."))
			if fqdn != "" && !validFQDN(fqdn) {
				b.fail("cache %s: invalid fqdn %q for delivery service %s", c.ID, fqdn, ds)
				continue
			}
			refs[ds] = fqdn
		}
		cache := &Cache{
			ID:               c.ID,
			FQDN:             c.FQDN,
			IPv4:             v4,
			IPv6:             v6,
			TTL:              c.TTL,
			Port:             c.Port,
			SecurePort:       c.SecurePort,
			Location:         c.Location,
			HashID:           hashID,
			Points:           hashring.Points(hashID, replicas),
			Capabilities:     caps,
			DeliveryServices: refs,
		}
		cache.setDefaultHealth()
		b.r.caches[c.ID] = cache
		b.members[c.Location] = append(b.members[c.Location], cache)
	}
}

func parseAddrs(s4, s6 string) (net.IP, net.IP, error) {
	var v4, v6 net.IP
	if s4 != "" {
		ip := net.ParseIP(s4)
		if ip == nil || ip.To4() == nil {
			return nil, nil, fmt.Errorf("invalid ipv4 address %q", s4)
		}
		v4 = ip.To4()
	}
	if s6 != "" {
		ip := net.ParseIP(s6)
		if ip == nil || ip.To4() != nil {
			return nil, nil, fmt.Errorf("invalid ipv6 address %q", s6)
		}
		v6 = ip
	}
	return v4, v6, nil
}

func (b *builder) coverageZones(in []snapshot.CoverageZone) {
	for _, z := range in {
		if _, ok := b.r.locations[z.Location]; !ok {
			b.fail("coverage zone: unknown location %q", z.Location)
			continue
		}
		b.insertNetworks(b.r.cz, "coverage zone", z)
	}
}

func (b *builder) deepCoverageZones(in []snapshot.CoverageZone) {
	for _, z := range in {
		base, ok := b.r.locations[z.Location]
		if !ok {
			b.fail("deep coverage zone: unknown location %q", z.Location)
			continue
		}
		var ids []string
		for _, id := range z.Caches {
			if _, ok := b.r.caches[id]; !ok {
				b.fail("deep coverage zone %s: unknown cache %q", z.Location, id)
				continue
			}
			ids = append(ids, id)
		}
		deep, exists := b.r.deepLocations[z.Location]
		if !exists {
			deep = &Location{
				ID:                base.ID,
				Coordinate:        base.Coordinate,
				Backups:           base.Backups,
				FallbackToClosest: base.FallbackToClosest,
				methods:           base.methods,
				deepSource:        b.r.caches,
			}
			b.r.deepLocations[z.Location] = deep
		}
		deep.deepIDs = append(deep.deepIDs, ids...)
		b.insertNetworks(b.r.deepCZ, "deep coverage zone", z)
	}
}

func (b *builder) insertNetworks(x *cidr.Index, kind string, z snapshot.CoverageZone) {
	for _, s := range z.Networks {
		n, err := cidr.Parse(s, z.Location)
		if err != nil {
			b.fail("%s %s: %w", kind, z.Location, err)
			continue
		}
		if !x.Insert(n) {
			b.fail("%s %s: duplicate network %s ignored", kind, z.Location, n.String())
		}
	}
}

func (b *builder) finish() {
	for id, l := range b.r.locations {
		l.setCaches(b.members[id])
		b.r.locationList = append(b.r.locationList, l)
	}
	sort.Slice(b.r.locationList, func(i, j int) bool { return b.r.locationList[i].ID < b.r.locationList[j].ID })
	for _, c := range b.r.caches {
		b.r.cacheList = append(b.r.cacheList, c)
	}
	sort.Slice(b.r.cacheList, func(i, j int) bool { return b.r.cacheList[i].ID < b.r.cacheList[j].ID })
	b.r.matchers = dsmatch.NewSet(b.exact, b.matchers)
}

// validFQDN：标签 1..63 个字符，仅字母数字与连字符，不以连字符开头或结尾，总长不超过 253
func validFQDN(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			ch := label[i]
			if !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '-') {
				return false
			}
		}
	}
	return true
}
