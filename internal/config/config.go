// 包 config：进程配置，来源为 .env 与环境变量
// 约束：每个键只在 Entries 中声明一次，默认值与说明同处一表；访问未声明的键视为编程错误
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
)

// Entry：配置键、默认值与说明
type Entry struct {
	Key         string
	Default     string
	Description string
}

var Entries = []Entry{
	{"ADDR", ":8080", "admin API listen address"},
	{"API_BASE", "/api", "admin API path prefix"},
	{"ADMIN_TOKEN", "", "token required by mutating admin endpoints (x-admin-token)"},
	{"RATE_LIMIT_QPS", "0", "per-second limit for the /route debug endpoint; 0 disables"},
	{"SNAPSHOT_FILE", "data/snapshot.yaml", "routing snapshot file used by the file source"},
	{"REGIONAL_GEO_FILE", "data/regional_geo.json", "regional geo-block ruleset file"},
	{"SNAPSHOT_SOURCE", "file", "snapshot source: file or postgres"},
	{"RELOAD_SCHEDULE", "@every 60s", "cron expression for snapshot and ruleset reload"},
	{"PG_HOST", "localhost", "postgres host"},
	{"PG_PORT", "5432", "postgres port"},
	{"PG_USER", "postgres", "postgres user"},
	{"PG_PASSWORD", "", "postgres password"},
	{"PG_DB", "cdnrouter", "postgres database"},
	{"PG_SSLMODE", "disable", "postgres sslmode"},
	{"PG_MAX_OPEN_CONNS", "10", "postgres max open connections"},
	{"REDIS_HOST", "127.0.0.1", "redis host for the health feed"},
	{"REDIS_PORT", "6379", "redis port"},
	{"REDIS_PASS", "", "redis password"},
	{"REDIS_DB", "0", "redis database index"},
	{"HEALTH_ENABLED", "false", "poll cache health states from redis"},
	{"HEALTH_KEY", "cdn:health", "redis hash holding cache health states"},
	{"HEALTH_INTERVAL", "5s", "health poll interval"},
	{"GEO_DB_PATH", "", "MaxMind City database; empty disables client geolocation"},
	{"GEO_CACHE_SIZE", "4096", "geo lookup LRU capacity"},
	{"GEO_CACHE_TTL", "1h", "geo lookup LRU entry lifetime"},
	{"HASH_REPLICAS", "1000", "ring points per cache when the cache declares none"},
	{"LOG_LEVEL", "info", "debug, info, warn or error"},
	{"LOG_FORMAT", "text", "text or json"},
}

var index = func() map[string]Entry {
	m := make(map[string]Entry, len(Entries))
	for _, e := range Entries {
		m[e.Key] = e
	}
	return m
}()

// Load：读取 .env（不存在时忽略），已存在的环境变量优先
func Load(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func lookup(key string) Entry {
	e, ok := index[key]
	if !ok {
		panic("config: undeclared key " + key)
	}
	return e
}

// String：环境变量值，未设置或为空时取默认值
func String(key string) string {
	e := lookup(key)
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return e.Default
}

// Int：解析失败时回退到默认值
func Int(key string) int {
	if n, err := strconv.Atoi(String(key)); err == nil {
		return n
	}
	n, _ := strconv.Atoi(lookup(key).Default)
	return n
}

func Bool(key string) bool {
	if b, err := strconv.ParseBool(String(key)); err == nil {
		return b
	}
	b, _ := strconv.ParseBool(lookup(key).Default)
	return b
}

func Duration(key string) time.Duration {
	if d, err := time.ParseDuration(String(key)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(lookup(key).Default)
	return d
}

// Describe：渲染配置表
func Describe() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tDEFAULT\tDESCRIPTION")
	for _, e := range Entries {
		def := e.Default
		if def == "" {
			def = `""`
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, def, e.Description)
	}
	_ = w.Flush()
	return b.String()
}
