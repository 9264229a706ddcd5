// 包 router：路由协调器，组合交付服务匹配、覆盖区定位、缓存地点故障转移、一致性哈希与区域策略
// 背景：注册表在热路径之外整体构建，通过 atomic.Pointer 发布；请求只在开始时取一次引用，全程使用同一份快照
package router

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cdn-router/internal/geoblock"
	"cdn-router/internal/logger"
	"cdn-router/internal/metrics"
	"cdn-router/internal/registry"
	"cdn-router/internal/snapshot"
)

// Options：构建参数
// Replicas 为缓存未声明副本数时的默认值；Evaluator 为空时创建一个未加载规则的评估器
type Options struct {
	Logger    *slog.Logger
	Replicas  int
	Evaluator *geoblock.Evaluator
}

type Router struct {
	log      *slog.Logger
	replicas int
	reg      atomic.Pointer[registry.Registry]
	regional *geoblock.Evaluator

	// 最近一次健康状态，按缓存 id 保存，在新快照发布时带入；只保留当前快照中存在的缓存
	health sync.Map
}

func New(opts Options) *Router {
	r := &Router{log: opts.Logger, replicas: opts.Replicas, regional: opts.Evaluator}
	if r.log == nil {
		r.log = logger.Discard()
	}
	if r.regional == nil {
		r.regional = geoblock.NewEvaluator()
	}
	return r
}

// ApplyConfiguration：构建新注册表并原子替换
// 约束：单实体错误只记录与计数，不阻止发布；仅 cfg 为 nil 时返回错误且保留当前快照
func (r *Router) ApplyConfiguration(cfg *snapshot.Config) error {
	start := time.Now()
	reg, errs := registry.Build(cfg, registry.Options{Replicas: r.replicas})
	if reg == nil {
		metrics.SnapshotApplyTotal.WithLabelValues("error").Inc()
		r.log.Error("snapshot_apply_error", "err", snapshot.ErrNilSnapshot)
		return snapshot.ErrNilSnapshot
	}
	for _, err := range errs {
		r.log.Warn("config_entity_error", "version", cfg.Version, "err", err)
		metrics.ConfigEntityErrorsTotal.Inc()
	}
	r.carryHealth(reg)
	r.reg.Store(reg)
	// 构建期间到达的健康更新只写入了旧快照，发布后再同步一次
	r.carryHealth(reg)

	status := "ok"
	if len(errs) > 0 {
		status = "partial"
	}
	metrics.SnapshotApplyTotal.WithLabelValues(status).Inc()
	r.log.Info("snapshot_applied",
		"version", reg.Version,
		"locations", len(reg.Locations()),
		"caches", len(reg.Caches()),
		"delivery_services", reg.DeliveryServiceCount(),
		"entity_errors", len(errs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// carryHealth：把记录的健康状态写入新快照；新快照中不存在的缓存 id 一并清除
func (r *Router) carryHealth(reg *registry.Registry) {
	r.health.Range(func(k, v any) bool {
		if c, ok := reg.Cache(k.(string)); ok {
			c.SetHealth(v.(registry.HealthState))
		} else {
			r.health.Delete(k)
		}
		return true
	})
}

// UpdateHealth：记录缓存健康状态并写入当前快照中的缓存
func (r *Router) UpdateHealth(cacheID string, h registry.HealthState) {
	r.health.Store(cacheID, h)
	if reg := r.reg.Load(); reg != nil {
		if c, ok := reg.Cache(cacheID); ok {
			c.SetHealth(h)
		}
	}
	metrics.HealthUpdatesTotal.Inc()
}

// Registry：当前快照；尚未加载配置时为 nil
func (r *Router) Registry() *registry.Registry { return r.reg.Load() }

// RegionalGeo：区域策略评估器，供规则重载使用
func (r *Router) RegionalGeo() *geoblock.Evaluator { return r.regional }
