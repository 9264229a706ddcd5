// 包 utils：外部连接的打开方式，地址与凭据统一取自 config
package utils

import (
	"cdn-router/internal/config"
	"cdn-router/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedis：按地址与密码打开客户端，地址为空时返回 nil
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// OpenRedisFromEnv：REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB；REDIS_DB 为负数时回退到 0
func OpenRedisFromEnv() *redis.Client {
	addr := config.String("REDIS_HOST") + ":" + config.String("REDIS_PORT")
	db := config.Int("REDIS_DB")
	if db < 0 {
		db = 0
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return OpenRedis(addr, config.String("REDIS_PASS"), db)
}
