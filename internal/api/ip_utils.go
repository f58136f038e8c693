package api

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取访问者 IP（未指定查询地址时作为查询目标，同时用于访客去重）
// 背景：多层代理环境下依次尝试常见反向代理头，最后回退 TCP 对端地址。
// 约束：头部可被伪造；仅用于“查自己”与统计，不用于鉴权（鉴权见 middleware.AllowCIDRs）。
func clientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		first, _, _ := strings.Cut(x, ",")
		return stripPort(strings.TrimSpace(first))
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := strings.TrimSpace(h.Get(k)); x != "" {
			return stripPort(x)
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := x[i+4:]
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return stripPort(strings.Trim(y, "\" "))
		}
	}
	return stripPort(r.RemoteAddr)
}

// stripPort 去掉端口与 IPv6 方括号；无端口的地址原样返回
func stripPort(s string) string {
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return strings.Trim(s, "[]")
}
