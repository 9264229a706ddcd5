// 包 health：从 Redis 哈希读取健康监控写入的缓存可用性并推送给路由器
// 背景：健康监控进程把每个缓存的状态写成 HEALTH_KEY 下的一个字段，路由进程周期性整表读取
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cdn-router/internal/registry"

	"github.com/redis/go-redis/v9"
)

// Sink：健康状态的接收方（router.Router）
type Sink interface {
	UpdateHealth(cacheID string, h registry.HealthState)
}

// Poller：按固定间隔轮询
// 约束：单个字段解码失败只记录日志并跳过，不影响其余缓存
type Poller struct {
	rc       *redis.Client
	key      string
	interval time.Duration
	sink     Sink
	log      *slog.Logger
}

func NewPoller(rc *redis.Client, key string, interval time.Duration, sink Sink, l *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{rc: rc, key: key, interval: interval, sink: sink, log: l}
}

// Start：立即轮询一次，随后按间隔轮询，ctx 取消时退出
func (p *Poller) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("health_poll_error", "key", p.key, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

// Poll：读取整张哈希并推送，返回成功应用的条数
func (p *Poller) Poll(ctx context.Context) (int, error) {
	all, err := p.rc.HGetAll(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall %s: %w", p.key, err)
	}
	n := 0
	for id, raw := range all {
		var h registry.HealthState
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			p.log.Warn("health_entry_malformed", "cache", id, "err", err)
			continue
		}
		p.sink.UpdateHealth(id, h)
		n++
	}
	p.log.Debug("health_poll_ok", "key", p.key, "applied", n)
	return n, nil
}

// Publish：写入单个缓存的状态，供健康监控与测试使用
func Publish(ctx context.Context, rc *redis.Client, key, cacheID string, h registry.HealthState) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return rc.HSet(ctx, key, cacheID, string(b)).Err()
}
