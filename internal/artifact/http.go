package artifact

import (
	"context"
	"geoip-api/internal/logger"
	"io"
	"net/http"
)

// 文档注释：HTTP 获取器
// 背景：下载 MaxMind 等上游发布的库文件；不设置独立超时，截止时间完全由调用方 ctx 决定。
// 约束：非 2xx 状态返回带 StatusCode 的 FetchError，便于上层记录（如许可证失效导致的 401）。
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{Client: client, UserAgent: userAgent}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, locator string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return 0, &FetchError{Locator: locator, Err: err}
	}
	if h.UserAgent != "" {
		req.Header.Set("user-agent", h.UserAgent)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, &FetchError{Locator: locator, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &FetchError{Locator: locator, StatusCode: resp.StatusCode, Err: &statusError{code: resp.StatusCode}}
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, &FetchError{Locator: locator, Err: err}
	}
	logger.L().Debug("artifact_http_done", "bytes", n, "content_length", resp.ContentLength)
	return n, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "unexpected status " + http.StatusText(e.code) }
