// 包 api：运维管理接口，挂载在 API_BASE 下；只读查询路由器当前快照，重载需要管理令牌
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"cdn-router/internal/geo"
	"cdn-router/internal/logger"
	"cdn-router/internal/metrics"
	mw "cdn-router/internal/middleware"
	"cdn-router/internal/registry"
	"cdn-router/internal/router"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps：管理接口依赖；Locator 与 Reload 可为空，RouteQPS <= 0 表示 /route 不限流
type Deps struct {
	Router     *router.Router
	Locator    geo.Locator
	Reload     func(ctx context.Context) error
	AdminToken string
	RouteQPS   int
	Logger     *slog.Logger
}

// Routes：构建管理路由，由主入口挂载到 API_BASE
func Routes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.AccessMiddleware(d.Logger))

	h := &handlers{d: d}
	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.With(mw.RateLimit(d.RouteQPS)).Get("/route", h.route)
	r.Get("/coveragezone", h.coverageZone)
	r.Get("/consistenthash", h.consistentHash)
	r.With(requireToken(d.AdminToken)).Post("/reload", h.reload)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// requireToken：令牌未配置时拒绝全部请求
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("x-admin-token") != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type handlers struct {
	d Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) registry(w http.ResponseWriter) (*registry.Registry, bool) {
	reg := h.d.Router.Registry()
	if reg == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot loaded"})
		return nil, false
	}
	return reg, true
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registry(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": reg.Version})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registry(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Version:          reg.Version,
		Locations:        len(reg.Locations()),
		Caches:           len(reg.Caches()),
		DeliveryServices: reg.DeliveryServiceCount(),
		RegionalGeoRules: h.d.Router.RegionalGeo().Len(),
	})
}

// route：/route?host=&path=&query=&ip=&protocol=http|dns&family=ipv4|ipv6&postal=
func (h *handlers) route(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host := q.Get("host")
	if host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host required"})
		return
	}
	ip := clientIP(r)
	req := &router.Request{
		ClientIP:   ip,
		Host:       host,
		Path:       q.Get("path"),
		Query:      q.Get("query"),
		Headers:    r.Header,
		Family:     registry.FamilyOf(ip),
		PostalCode: q.Get("postal"),
		Scheme:     q.Get("scheme"),
	}
	if req.Path == "" {
		req.Path = "/"
	}
	if strings.EqualFold(q.Get("family"), "ipv6") {
		req.Family = registry.IPv6
	}
	if h.d.Locator != nil && ip != nil {
		if info, ok := h.d.Locator.Locate(ip); ok {
			c := info.Coordinate
			req.Coordinate = &c
			if req.PostalCode == "" {
				req.PostalCode = info.PostalCode
			}
		}
	}
	var res router.Result
	if strings.EqualFold(q.Get("protocol"), "dns") {
		res = h.d.Router.RouteDNS(req)
	} else {
		res = h.d.Router.Route(req)
	}
	status := http.StatusOK
	switch res.Code {
	case router.NoDeliveryService:
		status = http.StatusNotFound
	case router.NoCacheAvailable:
		status = http.StatusServiceUnavailable
	case router.RegionalDenied:
		status = http.StatusForbidden
	}
	writeJSON(w, status, newRouteView(res))
}

func (h *handlers) coverageZone(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registry(w)
	if !ok {
		return
	}
	ip := clientIP(r)
	if ip == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ip"})
		return
	}
	v := zoneView{IP: ip.String()}
	if l, ok := reg.CoverageZone(ip); ok {
		v.CoverageZone = l.ID
	}
	if l, ok := reg.DeepCoverageZone(ip); ok {
		v.DeepCoverageZone = l.ID
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) consistentHash(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.registry(w)
	if !ok {
		return
	}
	q := r.URL.Query()
	loc, ok := reg.Location(q.Get("location"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown location"})
		return
	}
	c, ok := loc.Ring().Lookup(q.Get("key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "location has no caches"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": loc.ID, "key": q.Get("key"), "cache": c.ID})
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	if h.d.Reload == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "reload not configured"})
		return
	}
	if err := h.d.Reload(r.Context()); err != nil {
		h.d.Logger.Warn("admin_reload_error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	version := ""
	if reg := h.d.Router.Registry(); reg != nil {
		version = reg.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "version": version})
}
