package router

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cdn-router/internal/dsmatch"
	"cdn-router/internal/geo"
	"cdn-router/internal/geoblock"
	"cdn-router/internal/metrics"
	"cdn-router/internal/registry"
	"cdn-router/internal/snapshot"
)

// Code：路由结果码；无结果是正常分支，不作为错误返回
type Code int

const (
	Success Code = iota
	NoDeliveryService
	NoCacheAvailable
	RegionalDenied
	RegionalRedirect
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case NoDeliveryService:
		return "no_delivery_service"
	case NoCacheAvailable:
		return "no_cache_available"
	case RegionalDenied:
		return "regional_denied"
	case RegionalRedirect:
		return "regional_redirect"
	}
	return "unknown"
}

// Request：由 HTTP/DNS 前端构造的请求
// HTTP 路由按 ClientIP 推断地址族，DNS 路由使用 Family（A / AAAA 查询）；Coordinate 与 PostalCode 由定位器预先填好
type Request struct {
	ClientIP   net.IP
	Host       string
	Path       string
	Query      string
	Headers    http.Header
	Family     registry.Family
	Coordinate *geo.Coordinate
	PostalCode string
	Scheme     string
}

// Result：路由决策
type Result struct {
	Code            Code
	DeliveryService *registry.DeliveryService
	Cache           *registry.Cache
	Caches          []*registry.Cache
	Method          string
	Location        string
	HashKey         string
	Regional        *geoblock.Result
}

// Route：HTTP 风格路由，返回单个选中缓存及其后备排序
func (r *Router) Route(req *Request) Result {
	start := time.Now()
	res := r.route(req, snapshot.ProtocolHTTP)
	observe(snapshot.ProtocolHTTP, res, start)
	return res
}

// RouteDNS：DNS 风格路由，按主机名取哈希键，返回最多 MaxDNSIPs 个缓存（<=0 表示全部）
func (r *Router) RouteDNS(req *Request) Result {
	start := time.Now()
	res := r.route(req, snapshot.ProtocolDNS)
	observe(snapshot.ProtocolDNS, res, start)
	return res
}

func observe(proto string, res Result, start time.Time) {
	metrics.RouteTotal.WithLabelValues(strings.ToLower(proto), res.Code.String()).Inc()
	metrics.RouteDurationUs.Observe(float64(time.Since(start).Microseconds()))
	if res.Method != "" {
		metrics.LocalizationTotal.WithLabelValues(res.Method).Inc()
	}
}

func (r *Router) route(req *Request, proto string) Result {
	reg := r.reg.Load()
	if reg == nil {
		return Result{Code: NoDeliveryService}
	}
	host := normalizeHost(req.Host)
	ds, capture, ok := reg.Match(dsmatch.Input{Host: host, Path: req.Path, Header: req.Headers})
	if !ok || ds.Protocol != proto {
		return Result{Code: NoDeliveryService}
	}
	res := Result{Code: Success, DeliveryService: ds}

	family := req.Family
	key := host
	limit := ds.MaxDNSIPs
	if proto == snapshot.ProtocolHTTP {
		family = registry.FamilyOf(req.ClientIP)
		key = HashKey(ds, req.Path, req.Query, capture)
		limit = 0
		if ds.RegionalGeoBlocking {
			rg := r.regional.Evaluate(ds.ID, requestURL(req, host), req.ClientIP, req.PostalCode)
			metrics.RegionalGeoTotal.WithLabelValues(rg.Outcome.String()).Inc()
			res.Regional = &rg
			switch rg.Outcome {
			case geoblock.Denied:
				res.Code = RegionalDenied
				return res
			case geoblock.AlternateWithoutCache:
				res.Code = RegionalRedirect
				return res
			case geoblock.AlternateWithCache:
				res.Code = RegionalRedirect
				if u, err := url.Parse(rg.URL); err == nil {
					key = HashKey(ds, u.Path, u.RawQuery, "")
				}
			}
		}
	}
	res.HashKey = key

	sel := r.selectCaches(reg, ds, req, family, key, limit)
	if len(sel.caches) == 0 {
		res.Code = NoCacheAvailable
		return res
	}
	res.Caches = sel.caches
	res.Cache = sel.caches[0]
	res.Method = sel.method
	res.Location = sel.location
	return res
}

type selection struct {
	caches   []*registry.Cache
	method   string
	location string
}

// selectCaches：深度覆盖区 → 覆盖区地点 → 备份地点 → 最近地理地点；未命中覆盖区时按地理距离
func (r *Router) selectCaches(reg *registry.Registry, ds *registry.DeliveryService, req *Request, family registry.Family, key string, limit int) selection {
	if ds.DeepCaching {
		if deep, ok := reg.DeepCoverageZone(req.ClientIP); ok && deep.Enabled(snapshot.MethodDeepCZ) {
			if cs := pick(deep, ds, family, key, limit); len(cs) > 0 {
				return selection{cs, snapshot.MethodDeepCZ, deep.ID}
			}
		}
	}

	tried := map[string]bool{}
	if loc, ok := reg.CoverageZone(req.ClientIP); ok {
		tried[loc.ID] = true
		if loc.Enabled(snapshot.MethodCZ) {
			if cs := pick(loc, ds, family, key, limit); len(cs) > 0 {
				return selection{cs, snapshot.MethodCZ, loc.ID}
			}
		}
		for _, id := range loc.Backups {
			if tried[id] {
				continue
			}
			tried[id] = true
			b, ok := reg.Location(id)
			if !ok {
				continue
			}
			if cs := pick(b, ds, family, key, limit); len(cs) > 0 {
				metrics.FailoverTotal.WithLabelValues("backup").Inc()
				return selection{cs, snapshot.MethodCZ, b.ID}
			}
		}
		if !loc.FallbackToClosest {
			return selection{}
		}
		origin := loc.Coordinate
		if req.Coordinate != nil && req.Coordinate.Valid() {
			origin = *req.Coordinate
		}
		sel := closest(reg, ds, family, key, limit, origin, tried)
		if len(sel.caches) > 0 {
			metrics.FailoverTotal.WithLabelValues("closest").Inc()
		}
		return sel
	}

	if ds.CoverageZoneOnly {
		return selection{}
	}
	var origin geo.Coordinate
	switch {
	case req.Coordinate != nil && req.Coordinate.Valid():
		origin = *req.Coordinate
	case ds.MissCoordinate != nil:
		origin = *ds.MissCoordinate
	default:
		return selection{}
	}
	return closest(reg, ds, family, key, limit, origin, tried)
}

// closest：按与 origin 的距离升序尝试启用 GEO 的地点，距离相同按 id
func closest(reg *registry.Registry, ds *registry.DeliveryService, family registry.Family, key string, limit int, origin geo.Coordinate, skip map[string]bool) selection {
	type cand struct {
		loc *registry.Location
		d   float64
	}
	var cands []cand
	for _, l := range reg.Locations() {
		if skip[l.ID] || !l.Enabled(snapshot.MethodGeo) {
			continue
		}
		cands = append(cands, cand{l, geo.Distance(origin, l.Coordinate)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].d < cands[j].d })
	for _, c := range cands {
		if cs := pick(c.loc, ds, family, key, limit); len(cs) > 0 {
			return selection{cs, snapshot.MethodGeo, c.loc.ID}
		}
	}
	return selection{}
}

// pick：过滤出满足能力、引用与可用性的缓存，再由地点的环按哈希键排序
func pick(loc *registry.Location, ds *registry.DeliveryService, family registry.Family, key string, limit int) []*registry.Cache {
	accept := func(c *registry.Cache) bool {
		return c.Serves(ds.ID) && c.HasCapabilities(ds.RequiredCapabilities) && c.AvailableFor(family)
	}
	eligible := 0
	for _, c := range loc.Caches() {
		if accept(c) {
			eligible++
		}
	}
	if eligible == 0 {
		return nil
	}
	n := eligible
	if limit > 0 && limit < n {
		n = limit
	}
	return loc.Ring().Rank(key, n, accept)
}

// HashKey：路径（或匹配器捕获值）加上白名单内的查询参数，参数按名称排序
func HashKey(ds *registry.DeliveryService, path, rawQuery, capture string) string {
	base := path
	if capture != "" {
		base = capture
	}
	if len(ds.QueryKeys) == 0 || rawQuery == "" {
		return base
	}
	// 解析出错时 q 仍保留可解析的参数，无关参数的编码错误不影响哈希键
	q, _ := url.ParseQuery(rawQuery)
	var parts []string
	for _, k := range ds.QueryKeys {
		for _, v := range q[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	if len(parts) == 0 {
		return base
	}
	return base + "?" + strings.Join(parts, "&")
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}

func requestURL(req *Request, host string) string {
	scheme := req.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := scheme + "://" + host + req.Path
	if req.Query != "" {
		u += "?" + req.Query
	}
	return u
}
