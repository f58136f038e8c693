package artifact

import (
	"context"
	"fmt"
	"geoip-api/internal/logger"
	"io"
	"net/url"
	"os"
	"strings"
)

// 文档注释：制品获取契约
// 背景：把定位符指向的原始字节写入 dst；实现需遵守 ctx 取消并尽快返回。
// 约束：失败返回 *FetchError，StatusCode>0 表示远端返回了非成功状态，0 表示传输层错误。
type Fetcher interface {
	Fetch(ctx context.Context, locator string, dst io.Writer) (int64, error)
}

// FetchError：区分状态码错误与网络错误
type FetchError struct {
	Locator    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", Redact(e.Locator), e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", Redact(e.Locator), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// 文档注释：按 scheme 路由的获取器
// 背景：同一服务可能从 HTTP、S3 兼容存储或本地目录获取制品；无 scheme 视为本地文件。
type Router struct {
	byScheme map[string]Fetcher
}

func NewRouter() *Router { return &Router{byScheme: make(map[string]Fetcher)} }

// 文档注释：构建默认路由
// 背景：http/https 共用一个 HTTPFetcher，file 与裸路径读本地文件；s3 非空时注册 s3:// 获取器。
func NewDefaultRouter(userAgent string, s3 *S3Options) (*Router, error) {
	r := NewRouter()
	h := NewHTTPFetcher(nil, userAgent)
	r.Handle("http", h)
	r.Handle("https", h)
	r.Handle("file", FileFetcher{})
	if s3 != nil {
		f, err := NewS3Fetcher(*s3)
		if err != nil {
			return nil, err
		}
		r.Handle("s3", f)
	}
	return r, nil
}

// Handle 注册 scheme 对应的获取器，scheme 不区分大小写
func (r *Router) Handle(scheme string, f Fetcher) {
	r.byScheme[strings.ToLower(scheme)] = f
}

func (r *Router) Fetch(ctx context.Context, locator string, dst io.Writer) (int64, error) {
	scheme := "file"
	if u, err := url.Parse(locator); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}
	f, ok := r.byScheme[scheme]
	if !ok {
		return 0, &FetchError{Locator: locator, Err: fmt.Errorf("no fetcher for scheme %q", scheme)}
	}
	logger.L().Debug("artifact_fetch_route", "scheme", scheme)
	return f.Fetch(ctx, locator, dst)
}

// FileFetcher 读取本地文件，支持 file:// 与裸路径
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, locator string, dst io.Writer) (int64, error) {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Scheme == "file" {
		p = u.Path
	}
	f, err := os.Open(p)
	if err != nil {
		return 0, &FetchError{Locator: locator, Err: err}
	}
	defer f.Close()
	n, err := copyContext(ctx, dst, f)
	if err != nil {
		return n, &FetchError{Locator: locator, Err: err}
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// copyContext 在每次读取前检查取消，保证长时间拷贝可被及时打断
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, ctxReader{ctx: ctx, r: src})
}
