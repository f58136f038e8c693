package geoip

import (
	"context"
	"path/filepath"
	"time"

	"geoip-api/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// WatchSettle：最后一次文件事件之后等待的静默时间，避免在外部工具写到一半时加载
const WatchSettle = 2 * time.Second

// 文档注释：监听数据库文件并在外部替换后自动重载
// 背景：监听所在目录而非文件本身，rename 覆盖会替换 inode，直接监听文件会丢失后续事件；
// 事件去抖后调用 Reload，文件未变化（包括本进程刷新安装的文件）时 Reload 自行跳过。
// 约束：加载失败只记录日志，当前库保持不变；ctx 取消后返回 nil。
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	target := filepath.Clean(m.opts.DatabasePath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.L().Info("geoip_watch_begin", "path", target)

	var settle <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.watchSettle)
			} else {
				timer.Reset(m.watchSettle)
			}
			settle = timer.C
		case <-settle:
			settle = nil
			out := m.Reload(ctx)
			if out.Status == StatusSkipped {
				logger.L().Debug("geoip_watch_reload_skipped", "reason", out.Reason)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.L().Error("geoip_watch_error", "err", err)
		}
	}
}
