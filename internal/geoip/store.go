// 包 geoip：管理本地 MaxMind 格式查询库的生命周期，提供并发点查与后台热替换
package geoip

import (
	"errors"
	"fmt"
	"geoip-api/internal/logger"
	"geoip-api/internal/metrics"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// 文档注释：只读查询库（单个磁盘版本）
// 背景：包装 maxminddb 读取器，数据位于进程私有内存；打开后不可变，Lookup 可被任意数量的协程并发调用。
// 约束：refs 为引用计数，初始 1 代表“槽位持有”；计数归零时才真正关闭读取器，
// 因此关闭只会发生在被替换且所有在途查询结束之后。
type Store struct {
	path     string
	reader   *maxminddb.Reader
	openedAt time.Time
	modTime  time.Time
	size     int64

	refs      atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// 文档注释：打开查询库
// 背景：在打开时即校验文件头与元信息，快速失败而不是推迟到首次查询；读取失败、元信息缺失、
// 非 IP 查询库均返回 error。
func Open(path string) (*Store, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("geoip: %s is a directory", path)
	}
	// 读入私有内存而不是 mmap 目标路径：外部工具原地覆写（截断后写入）时，已安装的实例不受影响
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := maxminddb.FromBytes(b)
	if err != nil {
		return nil, err
	}
	if err := validateMetadata(r.Metadata); err != nil {
		_ = r.Close()
		return nil, err
	}
	s := &Store{path: path, reader: r, openedAt: time.Now(), modTime: fi.ModTime(), size: fi.Size()}
	s.refs.Store(1)
	metrics.OpenStores.Inc()
	logger.L().Debug("geoip_store_open", "path", path, "type", r.Metadata.DatabaseType, "build_epoch", r.Metadata.BuildEpoch)
	return s, nil
}

func validateMetadata(m maxminddb.Metadata) error {
	if m.DatabaseType == "" {
		return errors.New("geoip: missing database type in metadata")
	}
	if m.IPVersion != 4 && m.IPVersion != 6 {
		return fmt.Errorf("geoip: unsupported ip version %d", m.IPVersion)
	}
	if m.NodeCount == 0 {
		return errors.New("geoip: empty search tree")
	}
	return nil
}

// Lookup：查询单个地址；无记录返回 ErrNotFound
func (s *Store) Lookup(ip net.IP, locale string) (*Record, error) {
	// 仅含 IPv4 的库无法承载 IPv6 查询，按“无记录”处理
	if s.reader.Metadata.IPVersion == 4 && ip.To4() == nil {
		return nil, ErrNotFound
	}
	var rec mmdbRecord
	_, ok, err := s.reader.LookupNetwork(ip, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return rec.toRecord(ip.String(), locale), nil
}

// Close：释放底层读取器；重复调用无副作用
// WARNING: 不得在仍有 Lookup 在途时调用；经 Manager 管理的实例由引用计数保证这一点。
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.reader.Close()
		s.closed.Store(true)
		metrics.OpenStores.Dec()
		logger.L().Debug("geoip_store_closed", "path", s.path, "opened_at", s.openedAt)
	})
	return err
}

// Closed 报告底层读取器是否已释放
func (s *Store) Closed() bool { return s.closed.Load() }

func (s *Store) Path() string                { return s.path }
func (s *Store) OpenedAt() time.Time         { return s.openedAt }
func (s *Store) Metadata() maxminddb.Metadata { return s.reader.Metadata }

// acquire 在计数仍为正时加一；计数已归零说明实例已被替换并关闭
func (s *Store) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Store) release() {
	if s.refs.Add(-1) == 0 {
		if err := s.Close(); err != nil {
			logger.L().Warn("geoip_store_close_error", "path", s.path, "err", err)
		}
	}
}

// sameFile 判断磁盘上的文件是否仍是本实例打开时的版本
func (s *Store) sameFile(fi os.FileInfo) bool {
	return fi.Size() == s.size && fi.ModTime().Equal(s.modTime)
}
