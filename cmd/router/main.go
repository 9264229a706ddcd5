// 程序入口：读取配置、初始化依赖并启动路由服务；管理接口注册在 internal/api
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cdn-router/internal/api"
	"cdn-router/internal/config"
	"cdn-router/internal/geo"
	"cdn-router/internal/geoblock"
	"cdn-router/internal/health"
	"cdn-router/internal/logger"
	"cdn-router/internal/migrate"
	"cdn-router/internal/reload"
	"cdn-router/internal/router"
	"cdn-router/internal/store"
	"cdn-router/internal/utils"

	"github.com/go-chi/chi/v5"
)

func main() {
	helpConfig := flag.Bool("help-config", false, "print configuration keys and defaults")
	flag.Parse()
	if *helpConfig {
		fmt.Print(config.Describe())
		return
	}

	config.Load(".env", filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 背景：未配置 GEO_DB_PATH 时不做客户端定位，覆盖区未命中的请求只能使用交付服务的默认坐标
	var locator geo.Locator
	if p := config.String("GEO_DB_PATH"); p != "" {
		mm, err := geo.OpenMaxMind(p, config.Int("GEO_CACHE_SIZE"), config.Duration("GEO_CACHE_TTL"), l)
		if err != nil {
			l.Error("geo_open_error", "path", p, "err", err)
			os.Exit(1)
		}
		defer mm.Close()
		locator = mm
		l.Info("geo_open_ok", "path", p)
	} else {
		l.Info("geo_disabled")
	}

	r := router.New(router.Options{
		Logger:    l,
		Replicas:  config.Int("HASH_REPLICAS"),
		Evaluator: geoblock.NewEvaluator(),
	})

	var src reload.Source
	switch strings.ToLower(config.String("SNAPSHOT_SOURCE")) {
	case "postgres":
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		l.Info("db_ping_ok")
		if err := migrate.EnsureSchema(db, migrate.Postgres); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		src = reload.StoreSource{Store: store.AttachDB(db)}
	case "file":
		src = reload.FileSource{
			SnapshotPath:    config.String("SNAPSHOT_FILE"),
			RegionalGeoPath: config.String("REGIONAL_GEO_FILE"),
		}
	default:
		l.Error("snapshot_source_unknown", "source", config.String("SNAPSHOT_SOURCE"))
		os.Exit(1)
	}
	l.Info("snapshot_source", "source", config.String("SNAPSHOT_SOURCE"))

	sched := reload.NewScheduler(src, r, l)
	// 首次加载失败不退出：健康检查在快照就绪前返回 503，由定时重载继续尝试
	if err := sched.RunOnce(ctx); err != nil {
		l.Error("initial_load_error", "err", err)
	}
	if err := sched.Start(config.String("RELOAD_SCHEDULE")); err != nil {
		l.Error("reload_schedule_error", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	if config.Bool("HEALTH_ENABLED") {
		rc := utils.OpenRedisFromEnv()
		if rc == nil {
			l.Error("redis_disabled", "reason", "health feed requires redis")
			os.Exit(1)
		}
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		p := health.NewPoller(rc, config.String("HEALTH_KEY"), config.Duration("HEALTH_INTERVAL"), r, l)
		p.Start(ctx)
	} else {
		l.Info("health_feed_disabled")
	}

	apiBase := "/" + strings.Trim(config.String("API_BASE"), "/")
	l.Debug("config_api_base", "base", apiBase)
	root := chi.NewRouter()
	root.Mount(apiBase, api.Routes(api.Deps{
		Router:     r,
		Locator:    locator,
		Reload:     sched.RunOnce,
		AdminToken: config.String("ADMIN_TOKEN"),
		RouteQPS:   config.Int("RATE_LIMIT_QPS"),
		Logger:     l,
	}))

	addr := config.String("ADDR")
	s := &http.Server{Addr: addr, Handler: root, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown")
}
