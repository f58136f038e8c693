// 包 store: 可选的 PostgreSQL 统计存储，记录查询次数、访客数与刷新历史
package store

import (
	"context"
	"database/sql"
	"errors"
	"geoip-api/internal/logger"
	"time"

	_ "github.com/lib/pq"
)

// Store: 统计库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// 文档注释：递增查询计数
// 背景：命中与未命中都计入总量，未命中另计；newVisitor 为真时同时递增访客计数（去重由调用方负责）。
// 约束：统计失败不影响查询结果，调用方只记录日志。
func (s *Store) IncrQuery(ctx context.Context, found, newVisitor bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	visitors := 0
	if newVisitor {
		visitors = 1
	}
	notFound := 0
	if !found {
		notFound = 1
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE _geoip_stats_total SET total_queries=total_queries+1, total_visitors=total_visitors+$1 WHERE id=1",
		visitors); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _geoip_stats_daily(day, queries, not_found, visitors) VALUES(current_date, 1, $1, $2)
		ON CONFLICT (day) DO UPDATE SET queries=_geoip_stats_daily.queries+1,
			not_found=_geoip_stats_daily.not_found+EXCLUDED.not_found,
			visitors=_geoip_stats_daily.visitors+EXCLUDED.visitors`,
		notFound, visitors); err != nil {
		return err
	}
	logger.L().Debug("stats_incr", "found", found, "new_visitor", newVisitor)
	return tx.Commit()
}

// Totals: 累计与当日统计
type Totals struct {
	Total         int64 `json:"total"`
	Visitors      int64 `json:"visitors"`
	Today         int64 `json:"today"`
	TodayNotFound int64 `json:"todayNotFound"`
	TodayVisitors int64 `json:"todayVisitors"`
}

// GetTotals: 读取累计与当日统计；当日尚无记录时当日字段为 0
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	if err := s.db.QueryRowContext(ctx, "SELECT total_queries, total_visitors FROM _geoip_stats_total WHERE id=1").
		Scan(&t.Total, &t.Visitors); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	err := s.db.QueryRowContext(ctx, "SELECT queries, not_found, visitors FROM _geoip_stats_daily WHERE day=current_date").
		Scan(&t.Today, &t.TodayNotFound, &t.TodayVisitors)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}

// RefreshEntry: 一次刷新尝试的历史记录
type RefreshEntry struct {
	At         time.Time `json:"at"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	BuildEpoch int64     `json:"buildEpoch,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

// RecordRefresh: 追加一条刷新历史
func (s *Store) RecordRefresh(ctx context.Context, e RefreshEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO _geoip_refresh_log(status, kind, detail, build_epoch, duration_ms) VALUES($1,$2,$3,$4,$5)",
		e.Status, e.Kind, e.Detail, e.BuildEpoch, e.DurationMs)
	return err
}

// RecentRefreshes: 按时间倒序返回最近 limit 条刷新历史
func (s *Store) RecentRefreshes(ctx context.Context, limit int) ([]RefreshEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT at, status, kind, detail, build_epoch, duration_ms FROM _geoip_refresh_log ORDER BY at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RefreshEntry
	for rows.Next() {
		var e RefreshEntry
		if err := rows.Scan(&e.At, &e.Status, &e.Kind, &e.Detail, &e.BuildEpoch, &e.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
