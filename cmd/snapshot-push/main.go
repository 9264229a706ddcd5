// 快照发布工具：校验路由快照与区域规则集后写入 Postgres，供 SNAPSHOT_SOURCE=postgres 的路由实例拉取
// 约束：快照存在单实体错误时默认拒绝发布（-allow-partial 放行）；规则集解析失败一律拒绝
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"cdn-router/internal/config"
	"cdn-router/internal/geoblock"
	"cdn-router/internal/logger"
	"cdn-router/internal/migrate"
	"cdn-router/internal/registry"
	"cdn-router/internal/snapshot"
	"cdn-router/internal/store"
	"cdn-router/internal/utils"

	"github.com/cespare/xxhash/v2"
)

func main() {
	snapPath := flag.String("snapshot", "", "routing snapshot yaml to publish")
	rulesPath := flag.String("rules", "", "regional geo-block ruleset json to publish")
	version := flag.String("version", "", "version label; defaults to the snapshot's own version or a content hash")
	keep := flag.Int("keep", 0, "keep only the newest N versions of each published kind (0 keeps all)")
	allowPartial := flag.Bool("allow-partial", false, "publish even when some snapshot entities are rejected")
	dryRun := flag.Bool("dry-run", false, "validate only")
	history := flag.Int("history", 0, "list the newest N stored versions and exit")
	flag.Parse()

	config.Load()
	l := logger.Setup()

	if *snapPath == "" && *rulesPath == "" && *history == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var routing, rules []byte
	routingVersion, rulesVersion := *version, *version
	if *snapPath != "" {
		b, err := os.ReadFile(*snapPath)
		if err != nil {
			l.Error("snapshot_read_error", "path", *snapPath, "err", err)
			os.Exit(1)
		}
		cfg, err := snapshot.Decode(b)
		if err != nil {
			l.Error("snapshot_decode_error", "path", *snapPath, "err", err)
			os.Exit(1)
		}
		reg, errs := registry.Build(cfg, registry.Options{Replicas: config.Int("HASH_REPLICAS")})
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "entity error:", e)
		}
		if len(errs) > 0 && !*allowPartial {
			l.Error("snapshot_rejected", "entity_errors", len(errs))
			os.Exit(1)
		}
		l.Info("snapshot_valid", "locations", len(reg.Locations()), "caches", len(reg.Caches()), "delivery_services", reg.DeliveryServiceCount(), "entity_errors", len(errs))
		if routingVersion == "" {
			routingVersion = cfg.Version
		}
		if routingVersion == "" {
			routingVersion = strconv.FormatUint(xxhash.Sum64(b), 16)
		}
		routing = b
	}
	if *rulesPath != "" {
		b, err := os.ReadFile(*rulesPath)
		if err != nil {
			l.Error("rules_read_error", "path", *rulesPath, "err", err)
			os.Exit(1)
		}
		rs, err := geoblock.Parse(b)
		if err != nil {
			l.Error("rules_rejected", "path", *rulesPath, "err", err)
			os.Exit(1)
		}
		l.Info("rules_valid", "rules", rs.Len())
		if rulesVersion == "" {
			rulesVersion = strconv.FormatUint(xxhash.Sum64(b), 16)
		}
		rules = b
	}
	if *dryRun {
		l.Info("dry_run_ok")
		return
	}

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db, migrate.Postgres); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *history > 0 {
		for _, kind := range []string{store.KindRouting, store.KindRegionalGeo} {
			recs, err := st.History(ctx, kind, *history)
			if err != nil {
				l.Error("history_error", "kind", kind, "err", err)
				os.Exit(1)
			}
			for _, r := range recs {
				fmt.Printf("%-13s %-24s %s\n", r.Kind, r.Version, r.CreatedAt.Format(time.RFC3339))
			}
		}
		return
	}

	publish := func(kind, v string, body []byte) {
		if body == nil {
			return
		}
		if err := st.Save(ctx, kind, v, body); err != nil {
			l.Error("snapshot_save_error", "kind", kind, "err", err)
			os.Exit(1)
		}
		l.Info("snapshot_published", "kind", kind, "version", v, "bytes", len(body))
		if *keep > 0 {
			n, err := st.Prune(ctx, kind, *keep)
			if err != nil {
				l.Error("snapshot_prune_error", "kind", kind, "err", err)
				os.Exit(1)
			}
			l.Info("snapshot_pruned", "kind", kind, "deleted", n)
		}
	}
	publish(store.KindRouting, routingVersion, routing)
	publish(store.KindRegionalGeo, rulesVersion, rules)
}
