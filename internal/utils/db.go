package utils

import (
	"database/sql"
	"net/url"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// 文档注释：由 PG_* 环境变量拼装连接串
// 背景：统计库为可选后端；未配置的项回退到本地开发默认值。
func BuildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   envOr("PG_HOST", "localhost") + ":" + envOr("PG_PORT", "5432"),
		Path:   "/" + envOr("PG_DB", "geoip"),
	}
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(envOr("PG_USER", "postgres"), pass)
	} else {
		u.User = url.User(envOr("PG_USER", "postgres"))
	}
	q := url.Values{}
	q.Set("sslmode", envOr("PG_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgresFromEnv：打开连接池；PG_MAX_OPEN_CONNS / PG_MAX_IDLE_CONNS 可调整池大小
// 约束：sql.Open 不建立连接，可用性由调用方 Ping 确认
func OpenPostgresFromEnv() (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(envInt("PG_MAX_OPEN_CONNS", 10))
	db.SetMaxIdleConns(envInt("PG_MAX_IDLE_CONNS", 5))
	return db, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
