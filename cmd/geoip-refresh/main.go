package main

import (
	"context"
	"fmt"
	"geoip-api/internal/artifact"
	"geoip-api/internal/config"
	"geoip-api/internal/geoip"
	"geoip-api/internal/logger"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

// 文档注释：一次性刷新查询库
// 背景：用于部署前预热数据目录或由外部定时任务（cron/systemd timer）驱动，不启动 HTTP 服务。
// 退出码：0 成功；2 跳过（未配置下载地址等）；1 失败或配置错误。
func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := pflag.StringP("config", "c", os.Getenv("GEOIP_CONFIG"), "YAML 配置文件路径（可选）")
	timeout := pflag.Duration("timeout", 10*time.Minute, "整次刷新的超时时间，0 表示不限")
	url := pflag.String("url", "", "覆盖配置中的下载地址")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	l := logger.Setup()
	if *url != "" {
		cfg.DownloadURL = *url
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

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
	out := mgr.Refresh(ctx)
	_ = mgr.Close()
	switch out.Status {
	case geoip.StatusSuccess:
		l.Info("geoip_refresh_done", "path", out.Path, "build_epoch", out.BuildEpoch, "duration_ms", out.Duration.Milliseconds())
	case geoip.StatusSkipped:
		l.Warn("geoip_refresh_skipped", "reason", out.Reason)
		return 2
	default:
		l.Error("geoip_refresh_failed", "kind", out.Kind(), "err", out.Err)
		return 1
	}
	return 0
}
