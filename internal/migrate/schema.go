// 包 migrate：统计库的表结构初始化
package migrate

import (
	"context"
	"database/sql"
	"geoip-api/internal/logger"
)

// Statements：按顺序执行的建表语句，均可重复执行
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _geoip_stats_total (
		id INT PRIMARY KEY,
		total_queries BIGINT NOT NULL DEFAULT 0,
		total_visitors BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS _geoip_stats_daily (
		day DATE PRIMARY KEY,
		queries BIGINT NOT NULL DEFAULT 0,
		not_found BIGINT NOT NULL DEFAULT 0,
		visitors BIGINT NOT NULL DEFAULT 0
	)`,
	`INSERT INTO _geoip_stats_total(id, total_queries, total_visitors)
	 VALUES(1, 0, 0)
	 ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS _geoip_refresh_log (
		id BIGSERIAL PRIMARY KEY,
		at TIMESTAMPTZ NOT NULL DEFAULT now(),
		status TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		build_epoch BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geoip_refresh_log_at ON _geoip_refresh_log(at DESC)`,
}

// 背景：首次运行自动创建统计表；使用 IF NOT EXISTS 避免与既有结构冲突
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
