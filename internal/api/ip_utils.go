package api

import (
	"net"
	"net/http"
	"strings"
)

// clientIP：优先 ip 参数，其次常见反向代理头，最后回退远端地址
// 约束：头部可被伪造，管理 API 应部署在可信网络内
func clientIP(r *http.Request) net.IP {
	if q := strings.TrimSpace(r.URL.Query().Get("ip")); q != "" {
		return net.ParseIP(q)
	}
	h := r.Header
	for _, k := range []string{"x-forwarded-for", "x-real-ip", "x-client-ip"} {
		if x := h.Get(k); x != "" {
			return net.ParseIP(strings.TrimSpace(strings.Split(x, ",")[0]))
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			y = strings.Trim(y, "\"[]")
			return net.ParseIP(y)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
