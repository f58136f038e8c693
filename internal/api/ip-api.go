// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"geoip-api/internal/geoip"
	"geoip-api/internal/logger"
	"geoip-api/internal/metrics"
	"geoip-api/internal/schedule"
	"geoip-api/internal/store"
	"net/http"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
)

// Geo：查询库管理器的对外能力，由 *geoip.Manager 实现
type Geo interface {
	Query(address string) (*geoip.Record, error)
	Info() (geoip.Info, bool)
	Refresh(ctx context.Context) geoip.Outcome
}

// Deps：路由依赖；Scheduler、Stats、Redis 均可为空
type Deps struct {
	Geo        Geo
	Scheduler  interface{ State() schedule.State }
	Stats      *store.Store
	Redis      *redis.Client
	AdminToken string
	CacheTTL   time.Duration
}

type server struct {
	Deps
	now func() time.Time
}

// 文档注释：构建 API 路由
// 背景：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀；路径均为相对路径。
// 路由：GET /geoip/{ip}、GET /geoip（查询访问者自身）、GET /status、POST /refresh、GET /stats。
func BuildRoutes(d Deps) *http.ServeMux {
	if d.CacheTTL <= 0 {
		d.CacheTTL = 24 * time.Hour
	}
	s := &server{Deps: d, now: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /geoip/{ip}", s.handleQuery)
	mux.HandleFunc("GET /geoip", s.handleQuery)
	mux.HandleFunc("GET /geoip/", s.handleQuery)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := r.PathValue("ip")
	if ip == "" {
		ip = r.URL.Query().Get("ip")
	}
	if ip == "" {
		ip = clientIP(r)
	}
	addr, perr := netip.ParseAddr(ip)
	if perr == nil && addr.IsLoopback() {
		logger.L().Info("geoip_query_loopback", "ip", ip, "hint", "loopback addresses carry no location; check proxy headers")
	}

	key := ""
	if info, ok := s.Geo.Info(); ok && perr == nil {
		key = fmt.Sprintf("geoip:%d:%s", info.BuildEpoch, addr.Unmap().String())
	}
	if rec := s.cached(ctx, key); rec != nil {
		rec.IPAddress = ip
		writeJSON(w, http.StatusOK, rec)
		s.count(ctx, r, true)
		return
	}

	rec, err := s.Geo.Query(ip)
	switch {
	case errors.Is(err, geoip.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, fmt.Sprintf("%q is not a valid IPv4 or IPv6 address", ip))
		return
	case errors.Is(err, geoip.ErrNotLoaded):
		writeProblem(w, http.StatusNotFound, "no geoip database is loaded yet")
		s.count(ctx, r, false)
		return
	case errors.Is(err, geoip.ErrNotFound):
		writeProblem(w, http.StatusNotFound, fmt.Sprintf("no record for %s", ip))
		s.count(ctx, r, false)
		return
	case err != nil:
		logger.L().Error("api_query_error", "ip", ip, "err", err)
		writeProblem(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.store(ctx, key, rec)
	writeJSON(w, http.StatusOK, rec)
	s.count(ctx, r, true)
}

// cached 读取缓存；键为空、未启用 Redis 或未命中返回 nil
func (s *server) cached(ctx context.Context, key string) *geoip.Record {
	if key == "" || s.Redis == nil {
		return nil
	}
	b, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Debug("cache_get_error", "err", err)
		}
		metrics.CacheMissesTotal.Inc()
		return nil
	}
	var rec geoip.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		metrics.CacheMissesTotal.Inc()
		return nil
	}
	metrics.CacheHitsTotal.Inc()
	return &rec
}

func (s *server) store(ctx context.Context, key string, rec *geoip.Record) {
	if key == "" || s.Redis == nil {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, key, b, s.CacheTTL).Err(); err != nil {
		logger.L().Debug("cache_set_error", "err", err)
	}
}

// count 记录统计；失败只记录日志
func (s *server) count(ctx context.Context, r *http.Request, found bool) {
	if s.Stats == nil {
		return
	}
	visitor := clientIP(r)
	fresh, err := bloomCheckAndSet(ctx, s.Redis, visitorKey(s.now()), bloomPositions([]byte(visitor), bloomBits, bloomHashes), bloomTTL)
	if err != nil {
		logger.L().Debug("visitor_bloom_error", "err", err)
	}
	if err := s.Stats.IncrQuery(ctx, found, fresh); err != nil {
		logger.L().Debug("stats_incr_error", "err", err)
	}
}

type statusView struct {
	Loaded    bool                 `json:"loaded"`
	Database  *geoip.Info          `json:"database"`
	Scheduler string               `json:"scheduler,omitempty"`
	Refreshes []store.RefreshEntry `json:"refreshes,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var v statusView
	if info, ok := s.Geo.Info(); ok {
		v.Loaded = true
		v.Database = &info
	}
	if s.Scheduler != nil {
		v.Scheduler = s.Scheduler.State().String()
	}
	if s.Stats != nil {
		if rows, err := s.Stats.RecentRefreshes(r.Context(), 10); err == nil {
			v.Refreshes = rows
		} else {
			logger.L().Debug("refresh_log_error", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRefresh 需要 x-admin-token；刷新与请求生命周期解绑，客户端断开不会中断刷新
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	t := r.Header.Get("x-admin-token")
	if s.AdminToken == "" || subtle.ConstantTimeCompare([]byte(t), []byte(s.AdminToken)) != 1 {
		writeProblem(w, http.StatusForbidden, "admin token required")
		return
	}
	out := s.Geo.Refresh(context.WithoutCancel(r.Context()))
	v := outcomeView{Status: out.Status.String(), Reason: out.Reason, Kind: out.Kind(), BuildEpoch: out.BuildEpoch, DurationMs: out.Duration.Milliseconds()}
	if out.Err != nil {
		v.Error = out.Err.Error()
	}
	code := http.StatusOK
	switch out.Status {
	case geoip.StatusSkipped:
		code = http.StatusConflict
	case geoip.StatusFailed:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, v)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeProblem(w, http.StatusNotFound, "statistics are disabled")
		return
	}
	t, err := s.Stats.GetTotals(r.Context())
	if err != nil {
		logger.L().Error("stats_read_error", "err", err)
		writeProblem(w, http.StatusInternalServerError, "statistics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
