package geoip

import (
	"context"
	"errors"
	"fmt"
	"geoip-api/internal/artifact"
	"geoip-api/internal/logger"
	"geoip-api/internal/metrics"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConfig：缺少必需配置（数据库路径），进程应拒绝启动
var ErrConfig = errors.New("geoip: invalid configuration")

// Options：Manager 构造参数
// DatabasePath 必填；SourceURL 为空时刷新被跳过；TempDir 为空使用系统临时目录。
type Options struct {
	DatabasePath string
	SourceURL    string
	Locale       string
	Fetcher      artifact.Fetcher
	Extractors   artifact.Extractors
	TempDir      string
}

// 文档注释：查询库管理器
// 背景：持有“当前库”单一槽位；查询通过原子读取槽位并增加引用计数，无锁且不被刷新阻塞；
// 刷新在后台完成下载、解包、校验、落盘后，以一次指针交换安装新库，旧库在引用归零后关闭。
// 约束：
// - 槽位是唯一的共享可变状态，读者只会看到旧库或新库的完整状态；
// - 同一时刻至多一个 Refresh/Reload 执行，重入请求直接返回 Skipped；
// - 刷新失败对查询不可见，数据停留在最近一次成功的版本。
type Manager struct {
	opts       Options
	fetcher    artifact.Fetcher
	extractors artifact.Extractors

	current   atomic.Pointer[Store]
	refreshMu sync.Mutex
	closed    atomic.Bool

	watchSettle time.Duration
}

// 文档注释：构建管理器
// 背景：确保数据目录存在，并尝试加载目标路径上已有的库；加载失败只记录日志，管理器以空槽位启动。
// 异常：DatabasePath 为空返回 ErrConfig；目录无法创建返回对应 error。
func NewManager(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.DatabasePath) == "" {
		logger.L().Error("geoip_path_missing")
		return nil, fmt.Errorf("%w: database path is required", ErrConfig)
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	m := &Manager{opts: opts, fetcher: opts.Fetcher, extractors: opts.Extractors, watchSettle: WatchSettle}
	if m.fetcher == nil {
		r, err := artifact.NewDefaultRouter("", nil)
		if err != nil {
			return nil, err
		}
		m.fetcher = r
	}
	if m.extractors == nil {
		m.extractors = artifact.DefaultExtractors()
	}
	if dir := filepath.Dir(opts.DatabasePath); dir != "" {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			logger.L().Info("geoip_data_dir_created", "dir", dir)
		}
	}
	m.loadExisting()
	return m, nil
}

func (m *Manager) loadExisting() {
	p := m.opts.DatabasePath
	if _, err := os.Stat(p); err != nil {
		logger.L().Warn("geoip_database_missing", "path", p, "hint", "queries return not found until the first refresh")
		return
	}
	s, err := Open(p)
	if err != nil {
		logger.L().Error("geoip_database_load_error", "path", p, "err", err)
		return
	}
	m.install(s)
	logger.L().Info("geoip_database_loaded", "path", p, "type", s.Metadata().DatabaseType)
}

// 文档注释：查询单个地址
// 返回：命中记录；地址非法返回 ErrInvalidInput（不触碰库）；未加载返回 ErrNotLoaded；无记录返回 ErrNotFound。
// 约束：只读取已打开库的内存，不做网络或磁盘 I/O；刷新进行中仍可立即返回。
func (m *Manager) Query(address string) (*Record, error) {
	t0 := time.Now()
	address = strings.TrimSpace(address)
	addr, err := netip.ParseAddr(address)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidInput, address)
	}
	addr = addr.WithZone("").Unmap()
	s := m.acquire()
	if s == nil {
		metrics.QueriesTotal.WithLabelValues("not_loaded").Inc()
		logger.L().Debug("geoip_query_not_loaded", "ip", address)
		return nil, ErrNotLoaded
	}
	defer s.release()
	rec, err := s.Lookup(net.IP(addr.AsSlice()), m.opts.Locale)
	metrics.QueryDurationUs.Observe(float64(time.Since(t0).Microseconds()))
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.QueriesTotal.WithLabelValues("not_found").Inc()
		return nil, err
	case err != nil:
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		logger.L().Error("geoip_query_error", "ip", address, "err", err)
		return nil, err
	}
	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	rec.IPAddress = address
	return rec, nil
}

// acquire 取得当前库并加引用；槽位为空返回 nil。
// 读到的实例若已在交换后归零，则重新读取槽位（此时必然已是新实例）。
func (m *Manager) acquire() *Store {
	for {
		s := m.current.Load()
		if s == nil {
			return nil
		}
		if s.acquire() {
			return s
		}
	}
}

// install 原子替换槽位并释放旧实例的槽位引用
func (m *Manager) install(s *Store) {
	old := m.current.Swap(s)
	metrics.DatabaseBuildEpoch.Set(float64(s.Metadata().BuildEpoch))
	if old != nil {
		old.release()
	}
}

// 文档注释：刷新查询库
// 背景：下载 → 按后缀解包 → 校验打开 → 原子落盘 → 重新打开 → 交换槽位；每一步失败都保留当前库。
// 约束：
// - 未配置来源返回 Skipped；已有刷新在执行返回 Skipped；
// - 临时文件与目录在任何退出路径上都会清理，清理失败只记录日志；
// - 取消信号贯穿下载与解包，取消后不会安装半成品；超时由调用方 ctx 决定，本身不设硬超时。
func (m *Manager) Refresh(ctx context.Context) Outcome {
	if m.opts.SourceURL == "" {
		logger.L().Warn("geoip_refresh_skipped", "reason", "download url not configured")
		return m.record(skipped("source not configured"))
	}
	if !m.refreshMu.TryLock() {
		logger.L().Info("geoip_refresh_skipped", "reason", "refresh in progress")
		return m.record(skipped("refresh in progress"))
	}
	defer m.refreshMu.Unlock()
	if m.closed.Load() {
		return m.record(skipped("manager closed"))
	}
	t0 := time.Now()
	logger.L().Info("geoip_refresh_begin", "url", artifact.Redact(m.opts.SourceURL))
	s, err := m.refresh(ctx)
	out := Outcome{Status: StatusSuccess, Path: m.opts.DatabasePath, Duration: time.Since(t0)}
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return m.record(out)
	}
	m.install(s)
	out.BuildEpoch = s.Metadata().BuildEpoch
	return m.record(out)
}

func (m *Manager) record(o Outcome) Outcome {
	metrics.RefreshTotal.WithLabelValues(o.Status.String(), o.Kind()).Inc()
	if o.Duration > 0 {
		metrics.RefreshDurationMs.Observe(float64(o.Duration.Milliseconds()))
	}
	switch o.Status {
	case StatusSuccess:
		logger.L().Info("geoip_refresh_done", "path", o.Path, "build_epoch", o.BuildEpoch, "duration_ms", o.Duration.Milliseconds())
	case StatusFailed:
		attrs := []any{"kind", o.Kind(), "err", o.Err, "duration_ms", o.Duration.Milliseconds()}
		var fe *artifact.FetchError
		if errors.As(o.Err, &fe) && fe.StatusCode > 0 {
			attrs = append(attrs, "status_code", fe.StatusCode, "hint", "check license key and url")
		}
		logger.L().Error("geoip_refresh_failed", attrs...)
	}
	return o
}

// classify 把取消与其他失败区分开
func classify(ctx context.Context, kind, err error) error {
	if ctx.Err() != nil {
		return refreshErr(ErrCanceled, ctx.Err())
	}
	return refreshErr(kind, err)
}

func (m *Manager) refresh(ctx context.Context) (*Store, error) {
	scratch, err := os.MkdirTemp(m.opts.TempDir, "geoip-refresh-*")
	if err != nil {
		return nil, refreshErr(ErrInstall, err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.L().Warn("geoip_cleanup_error", "dir", scratch, "err", err)
		}
	}()

	locator := m.opts.SourceURL
	download := filepath.Join(scratch, "download.bin")
	n, err := m.fetchTo(ctx, locator, download)
	if err != nil {
		return nil, classify(ctx, ErrNetwork, err)
	}
	metrics.ArtifactBytes.Set(float64(n))
	logger.L().Info("geoip_download_done", "bytes", n, "tmp", download)

	format := artifact.DetectFormat(locator)
	if format == artifact.FormatUnknown {
		logger.L().Warn("geoip_format_unknown", "hint", "assuming the download is a raw .mmdb file")
		format = artifact.FormatRaw
	}
	ex, ok := m.extractors[format]
	if !ok {
		logger.L().Error("geoip_extractor_missing", "format", format.String())
		return nil, refreshErr(ErrUnsupportedFormat, fmt.Errorf("no extractor wired for %s artifacts", format))
	}
	name := artifact.DecompressedName(locator, filepath.Base(m.opts.DatabasePath))
	extracted, err := ex.Extract(ctx, artifact.Request{Src: download, DstDir: scratch, Name: name})
	if err != nil {
		return nil, classify(ctx, ErrCorruptArtifact, err)
	}
	logger.L().Debug("geoip_extract_done", "format", format.String(), "path", extracted)

	candidate, err := Open(extracted)
	if err != nil {
		return nil, classify(ctx, ErrOpen, err)
	}
	_ = candidate.Close()
	if err := ctx.Err(); err != nil {
		return nil, refreshErr(ErrCanceled, err)
	}

	if err := replaceFile(extracted, m.opts.DatabasePath); err != nil {
		return nil, refreshErr(ErrInstall, err)
	}
	logger.L().Info("geoip_database_replaced", "path", m.opts.DatabasePath)
	s, err := Open(m.opts.DatabasePath)
	if err != nil {
		return nil, refreshErr(ErrOpen, err)
	}
	return s, nil
}

func (m *Manager) fetchTo(ctx context.Context, locator, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := m.fetcher.Fetch(ctx, locator, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// 文档注释：原子替换目标文件
// 背景：先写入目标目录下的临时文件并 fsync，再 rename 覆盖；临时文件与目标同目录以保证 rename 原子。
// 约束：库实例持有私有副本，目标文件被覆盖后旧实例仍然有效，直到引用归零被关闭。
func replaceFile(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	ok = true
	return nil
}

// 文档注释：从磁盘重新加载
// 背景：外部工具（如 geoipupdate）直接替换了目标文件时使用；文件大小与修改时间和当前库一致则跳过。
// 约束：与 Refresh 共用互斥，互不重入。
func (m *Manager) Reload(ctx context.Context) Outcome {
	if !m.refreshMu.TryLock() {
		return skipped("refresh in progress")
	}
	defer m.refreshMu.Unlock()
	if m.closed.Load() {
		return skipped("manager closed")
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Status: StatusFailed, Err: refreshErr(ErrCanceled, err)}
	}
	p := m.opts.DatabasePath
	fi, err := os.Stat(p)
	if err != nil {
		return skipped("database file missing")
	}
	if cur := m.current.Load(); cur != nil && cur.sameFile(fi) {
		return skipped("database file unchanged")
	}
	t0 := time.Now()
	s, err := Open(p)
	if err != nil {
		logger.L().Error("geoip_reload_failed", "path", p, "err", err)
		return Outcome{Status: StatusFailed, Err: refreshErr(ErrOpen, err), Path: p, Duration: time.Since(t0)}
	}
	m.install(s)
	logger.L().Info("geoip_reloaded", "path", p, "build_epoch", s.Metadata().BuildEpoch)
	return Outcome{Status: StatusSuccess, Path: p, BuildEpoch: s.Metadata().BuildEpoch, Duration: time.Since(t0)}
}

// Info：当前库的元信息快照
type Info struct {
	Path         string    `json:"path"`
	DatabaseType string    `json:"databaseType"`
	BuildEpoch   uint      `json:"buildEpoch"`
	BuildTime    time.Time `json:"buildTime"`
	IPVersion    uint      `json:"ipVersion"`
	NodeCount    uint      `json:"nodeCount"`
	Languages    []string  `json:"languages"`
	OpenedAt     time.Time `json:"openedAt"`
}

// Info 返回当前库信息；未加载时第二个返回值为 false
func (m *Manager) Info() (Info, bool) {
	s := m.acquire()
	if s == nil {
		return Info{}, false
	}
	defer s.release()
	md := s.Metadata()
	return Info{
		Path:         s.Path(),
		DatabaseType: md.DatabaseType,
		BuildEpoch:   md.BuildEpoch,
		BuildTime:    time.Unix(int64(md.BuildEpoch), 0).UTC(),
		IPVersion:    md.IPVersion,
		NodeCount:    md.NodeCount,
		Languages:    md.Languages,
		OpenedAt:     s.OpenedAt(),
	}, true
}

// Close：清空槽位并释放槽位引用；在途查询完成后底层库随之关闭
// WARNING: 会等待正在执行的刷新结束。
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if old := m.current.Swap(nil); old != nil {
		old.release()
	}
	return nil
}
