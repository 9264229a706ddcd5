package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RouteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnrouter_route_total",
		Help: "Routing decisions by protocol and result code",
	}, []string{"protocol", "result"})
	RouteDurationUs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdnrouter_route_duration_us",
		Help:    "Routing decision duration in microseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	LocalizationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnrouter_localization_total",
		Help: "Client localizations by method",
	}, []string{"method"})
	FailoverTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnrouter_failover_total",
		Help: "Cache selections served past the resolved location, by failover stage",
	}, []string{"stage"})
	RegionalGeoTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnrouter_regional_geo_total",
		Help: "Regional geo-block evaluations by outcome",
	}, []string{"outcome"})
	SnapshotApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnrouter_snapshot_apply_total",
		Help: "Configuration snapshot applications by status",
	}, []string{"status"})
	ConfigEntityErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnrouter_config_entity_errors_total",
		Help: "Configuration entities skipped because they were malformed",
	})
	HealthUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnrouter_health_updates_total",
		Help: "Cache health states applied",
	})
	GeoCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnrouter_geo_cache_hits_total",
		Help: "Geo locator LRU hits",
	})
	GeoCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnrouter_geo_cache_misses_total",
		Help: "Geo locator LRU misses",
	})
)

func init() {
	prometheus.MustRegister(RouteTotal)
	prometheus.MustRegister(RouteDurationUs)
	prometheus.MustRegister(LocalizationTotal)
	prometheus.MustRegister(FailoverTotal)
	prometheus.MustRegister(RegionalGeoTotal)
	prometheus.MustRegister(SnapshotApplyTotal)
	prometheus.MustRegister(ConfigEntityErrorsTotal)
	prometheus.MustRegister(HealthUpdatesTotal)
	prometheus.MustRegister(GeoCacheHitsTotal)
	prometheus.MustRegister(GeoCacheMissesTotal)
}

// Handler：Prometheus 抓取入口，挂载在管理 API 的 /metrics
func Handler() http.Handler { return promhttp.Handler() }
