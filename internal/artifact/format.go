// 包 artifact：查询库制品的获取与解包，作为刷新流程的外部协作方
package artifact

import (
	"net/url"
	"path"
	"strings"
)

// Format：由定位符后缀推断的容器格式
type Format int

const (
	FormatUnknown Format = iota
	FormatRaw
	FormatGzip
	FormatZstd
	FormatLZ4
	FormatArchive
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	case FormatArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// SingleStream 报告是否为单流压缩格式
func (f Format) SingleStream() bool {
	return f == FormatGzip || f == FormatZstd || f == FormatLZ4
}

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.zst", ".tar.lz4", ".tar", ".zip"}

var streamSuffixes = map[string]Format{
	".gz":   FormatGzip,
	".zst":  FormatZstd,
	".zstd": FormatZstd,
	".lz4":  FormatLZ4,
}

// 文档注释：根据定位符推断格式
// 背景：优先看路径后缀；MaxMind 永久下载链接把格式放在 suffix 查询参数里（...&suffix=tar.gz），一并识别。
// 约束：多文件归档必须先于 .gz 判断，避免 .tar.gz 被当作单流压缩；无法识别时返回 FormatUnknown，由调用方决定兜底。
func DetectFormat(locator string) Format {
	for _, c := range candidates(locator) {
		if f := classify(c); f != FormatUnknown {
			return f
		}
	}
	return FormatUnknown
}

func candidates(locator string) []string {
	u, err := url.Parse(locator)
	if err != nil {
		return []string{strings.ToLower(locator)}
	}
	out := make([]string, 0, 2)
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if p != "" {
		out = append(out, strings.ToLower(p))
	}
	if s := u.Query().Get("suffix"); s != "" {
		out = append(out, "."+strings.TrimPrefix(strings.ToLower(s), "."))
	}
	return out
}

func classify(p string) Format {
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(p, s) {
			return FormatArchive
		}
	}
	if strings.HasSuffix(p, ".mmdb") {
		return FormatRaw
	}
	for s, f := range streamSuffixes {
		if strings.HasSuffix(p, s) {
			return f
		}
	}
	return FormatUnknown
}

// 文档注释：解压后文件名
// 背景：取定位符最后一段去掉压缩后缀；若结果不是 .mmdb 文件名，则使用 fallback（通常为目标库文件名）。
func DecompressedName(locator, fallback string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	lower := strings.ToLower(base)
	for s := range streamSuffixes {
		if strings.HasSuffix(lower, s) {
			base = base[:len(base)-len(s)]
			lower = lower[:len(lower)-len(s)]
			break
		}
	}
	if !strings.HasSuffix(lower, ".mmdb") || base == ".mmdb" {
		return fallback
	}
	return base
}

// Redact 隐藏定位符中的凭据查询参数，用于日志输出
func Redact(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	q := u.Query()
	changed := false
	for k := range q {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "secret") {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
