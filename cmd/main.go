// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"fmt"
	"geoip-api/internal/api"
	"geoip-api/internal/artifact"
	"geoip-api/internal/config"
	"geoip-api/internal/geoip"
	"geoip-api/internal/logger"
	"geoip-api/internal/metrics"
	"geoip-api/internal/middleware"
	"geoip-api/internal/migrate"
	"geoip-api/internal/schedule"
	"geoip-api/internal/store"
	"geoip-api/internal/utils"
	"geoip-api/internal/version"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码；所有 defer 在返回前执行
func run() int {
	cfgPath := pflag.StringP("config", "c", os.Getenv("GEOIP_CONFIG"), "YAML 配置文件路径（可选）")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := artifact.NewDefaultRouter(cfg.FetchUserAgent(), cfg.S3Options())
	if err != nil {
		l.Error("fetcher_init_error", "err", err)
		return 1
	}
	extractors := artifact.DefaultExtractors()
	if cfg.ArchiveExtract {
		extractors = extractors.WithArchive()
	}
	mgr, err := geoip.NewManager(geoip.Options{
		DatabasePath: cfg.DatabasePath,
		SourceURL:    cfg.DownloadURL,
		Locale:       cfg.Locale,
		Fetcher:      fetcher,
		Extractors:   extractors,
		TempDir:      cfg.TempDir,
	})
	if err != nil {
		l.Error("geoip_init_error", "err", err)
		return 1
	}
	defer mgr.Close()

	var st *store.Store
	if cfg.StatsEnable {
		st = openStats(ctx, l)
		if st != nil {
			defer st.Close()
		}
	}
	var rc *redis.Client
	if cfg.RedisEnable {
		rc = utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		defer rc.Close()
	}

	lr := &loggedRefresher{mgr: mgr, stats: st}
	sched := schedule.New(lr, schedule.Options{
		Schedule: cfg.UpdateSchedule,
		Settle:   cfg.InitialDelay,
	})

	apiMux := api.BuildRoutes(api.Deps{
		Geo:        lr,
		Scheduler:  sched,
		Stats:      st,
		Redis:      rc,
		AdminToken: cfg.HTTP.AdminToken,
	})
	base := cfg.HTTP.APIBase
	mux := http.NewServeMux()
	mux.Handle(base+"/", http.StripPrefix(base, apiMux))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "geoip-api %s\napi: %s/geoip/{ip}\n", version.Commit, base)
	})

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.NewLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst).Wrap(handler)
	if len(cfg.HTTP.AllowCIDRs) > 0 {
		if handler, err = middleware.AllowCIDRs(cfg.HTTP.AllowCIDRs, handler); err != nil {
			l.Error("allow_cidrs_error", "err", err)
			return 1
		}
	}
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.WatchFile {
		g.Go(func() error { return mgr.Watch(gctx) })
	}
	g.Go(func() error {
		var err error
		if cfg.HTTP.TLSEnable {
			if err := utils.EnsureSelfSignedCert(cfg.HTTP.TLSCertPath, cfg.HTTP.TLSKeyPath, "geoip-api.local"); err != nil {
				return err
			}
			l.Info("listening_tls", "addr", srv.Addr, "cert", cfg.HTTP.TLSCertPath)
			err = srv.ListenAndServeTLS(cfg.HTTP.TLSCertPath, cfg.HTTP.TLSKeyPath)
		} else {
			l.Info("listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		l.Error("server_error", "err", err)
		return 1
	}
	l.Info("shutdown_ok")
	return 0
}

// openStats 打开统计库并建表；任一步失败时关闭统计而不是退出
func openStats(ctx context.Context, l *slog.Logger) *store.Store {
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		return nil
	}
	if err := db.PingContext(ctx); err != nil {
		l.Error("db_ping_error", "err", err)
		_ = db.Close()
		return nil
	}
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		_ = db.Close()
		return nil
	}
	l.Info("db_open_ok")
	return store.AttachDB(db)
}

// loggedRefresher 在刷新之后追加刷新历史；调度器与管理接口共用
type loggedRefresher struct {
	mgr   *geoip.Manager
	stats *store.Store
}

func (r *loggedRefresher) Query(address string) (*geoip.Record, error) { return r.mgr.Query(address) }
func (r *loggedRefresher) Info() (geoip.Info, bool)                   { return r.mgr.Info() }

func (r *loggedRefresher) Refresh(ctx context.Context) geoip.Outcome {
	out := r.mgr.Refresh(ctx)
	if r.stats == nil {
		return out
	}
	e := store.RefreshEntry{
		Status:     out.Status.String(),
		Kind:       out.Kind(),
		Detail:     out.Reason,
		BuildEpoch: int64(out.BuildEpoch),
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		e.Detail = out.Err.Error()
	}
	if err := r.stats.RecordRefresh(context.WithoutCancel(ctx), e); err != nil {
		logger.L().Debug("refresh_log_error", "err", err)
	}
	return out
}
