// 包 reload：按 cron 表达式周期拉取配置快照与区域规则并应用到路由器
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cdn-router/internal/geoblock"
	"cdn-router/internal/metrics"
	"cdn-router/internal/snapshot"

	"github.com/robfig/cron/v3"
)

// Target：接收快照的一方（router.Router）
type Target interface {
	ApplyConfiguration(cfg *snapshot.Config) error
	RegionalGeo() *geoblock.Evaluator
}

// Scheduler：版本未变化时跳过应用；同一时刻只有一次重载在执行
type Scheduler struct {
	src    Source
	target Target
	log    *slog.Logger

	mu          sync.Mutex
	lastRouting string
	lastGeo     string
	cron        *cron.Cron
}

func NewScheduler(src Source, target Target, l *slog.Logger) *Scheduler {
	return &Scheduler{src: src, target: target, log: l}
}

// RunOnce：拉取并应用；路由快照解码失败不替换当前快照，规则集失败保留上一份规则
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.src.Fetch(ctx)
	if err != nil {
		s.log.Error("reload_fetch_error", "err", err)
		metrics.SnapshotApplyTotal.WithLabelValues("fetch_error").Inc()
		return err
	}
	var errs []error
	if p.Version != s.lastRouting {
		if err := s.applyRouting(p); err != nil {
			errs = append(errs, err)
		} else {
			s.lastRouting = p.Version
		}
	} else {
		s.log.Debug("reload_unchanged", "version", p.Version)
	}
	if p.RegionalGeo != nil && p.RegionalGeoVersion != s.lastGeo {
		if err := s.target.RegionalGeo().Reload(p.RegionalGeo); err != nil {
			s.log.Error("regional_geo_reload_error", "version", p.RegionalGeoVersion, "err", err)
			errs = append(errs, err)
		} else {
			s.lastGeo = p.RegionalGeoVersion
			s.log.Info("regional_geo_applied", "version", p.RegionalGeoVersion, "rules", s.target.RegionalGeo().Len())
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) applyRouting(p Payload) error {
	cfg, err := snapshot.Decode(p.Routing)
	if err != nil {
		s.log.Error("snapshot_decode_error", "version", p.Version, "err", err)
		metrics.SnapshotApplyTotal.WithLabelValues("decode_error").Inc()
		return err
	}
	if cfg.Version == "" {
		cfg.Version = p.Version
	}
	return s.target.ApplyConfiguration(cfg)
}

// Start：按 cron 表达式调度 RunOnce（标准 5 段或 @every 描述符）
func (s *Scheduler) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("reload schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("reload_scheduled", "schedule", schedule)
	return nil
}

// Stop：停止调度并等待进行中的任务结束
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
