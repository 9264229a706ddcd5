package api

import (
	"cdn-router/internal/geoblock"
	"cdn-router/internal/router"
)

type cacheView struct {
	ID         string `json:"id"`
	FQDN       string `json:"fqdn"`
	IPv4       string `json:"ipv4,omitempty"`
	IPv6       string `json:"ipv6,omitempty"`
	Port       int    `json:"port,omitempty"`
	SecurePort int    `json:"securePort,omitempty"`
	TTL        int    `json:"ttl,omitempty"`
	Location   string `json:"location"`
}

type routeView struct {
	Result          string           `json:"result"`
	DeliveryService string           `json:"deliveryService,omitempty"`
	Method          string           `json:"method,omitempty"`
	Location        string           `json:"location,omitempty"`
	HashKey         string           `json:"hashKey,omitempty"`
	Cache           *cacheView       `json:"cache,omitempty"`
	Caches          []cacheView      `json:"caches,omitempty"`
	Regional        *geoblock.Result `json:"regional,omitempty"`
}

type statsView struct {
	Version          string `json:"version"`
	Locations        int    `json:"locations"`
	Caches           int    `json:"caches"`
	DeliveryServices int    `json:"deliveryServices"`
	RegionalGeoRules int    `json:"regionalGeoRules"`
}

type zoneView struct {
	IP               string `json:"ip"`
	CoverageZone     string `json:"coverageZone,omitempty"`
	DeepCoverageZone string `json:"deepCoverageZone,omitempty"`
}

func newRouteView(res router.Result) routeView {
	v := routeView{Result: res.Code.String(), Method: res.Method, Location: res.Location, HashKey: res.HashKey, Regional: res.Regional}
	if res.DeliveryService != nil {
		v.DeliveryService = res.DeliveryService.ID
	}
	for _, c := range res.Caches {
		cv := cacheView{ID: c.ID, FQDN: c.FQDN, Port: c.Port, SecurePort: c.SecurePort, TTL: c.TTL, Location: c.Location}
		if res.DeliveryService != nil {
			cv.FQDN = c.FQDNFor(res.DeliveryService.ID)
		}
		if c.IPv4 != nil {
			cv.IPv4 = c.IPv4.String()
		}
		if c.IPv6 != nil {
			cv.IPv6 = c.IPv6.String()
		}
		v.Caches = append(v.Caches, cv)
	}
	if len(v.Caches) > 0 {
		first := v.Caches[0]
		v.Cache = &first
	}
	return v
}
