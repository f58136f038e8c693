// 包 utils：可选后端（PostgreSQL、Redis）的连接工具与 TLS 证书准备，统一环境变量读取
package utils

import (
	"geoip-api/internal/logger"

	"github.com/redis/go-redis/v9"
)

// OpenRedisFromEnv：从 REDIS_HOST/REDIS_PORT/REDIS_PASS/REDIS_DB 打开客户端
// 约束：REDIS_DB 解析失败时回退到 0；不在此处 Ping，连接错误在首次使用时暴露
func OpenRedisFromEnv() *redis.Client {
	addr := envOr("REDIS_HOST", "127.0.0.1") + ":" + envOr("REDIS_PORT", "6379")
	db := envInt("REDIS_DB", 0)
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: envOr("REDIS_PASS", ""), DB: db})
}
