// 包 middleware：入口防护，按来源地址限速并可选地限制来源网段
package middleware

import (
	"geoip-api/internal/logger"
	"geoip-api/internal/metrics"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 文档注释：按来源地址的令牌桶限流
// 背景：查询本身只读内存映射，代价低；限流主要保护 Redis 与统计库不被单一来源打满。
// 约束：超出返回 429，不排队；闲置超过 idleTTL 的来源在下一次清理时回收。
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
	lastGC  time.Time
	now     func() time.Time
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

const idleTTL = 10 * time.Minute

// NewLimiter rps<=0 表示不限速
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*client), now: time.Now}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastGC) > idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.seen) > idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastGC = now
	}
	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// Wrap 返回限流后的处理器
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	if l == nil || l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteIP(r)) {
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("retry-after", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// 文档注释：来源网段白名单
// 背景：内网部署时只允许指定网段访问；列表为空表示放行全部。
// 约束：只看 TCP 对端地址，不信任代理头，避免伪造绕过。
func AllowCIDRs(prefixes []string, next http.Handler) (http.Handler, error) {
	if len(prefixes) == 0 {
		return next, nil
	}
	allowed := make([]netip.Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		pfx, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, err
		}
		allowed = append(allowed, pfx.Masked())
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := netip.ParseAddr(remoteIP(r))
		if err == nil {
			addr = addr.Unmap()
			for _, p := range allowed {
				if p.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		logger.L().Debug("http_source_denied", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
	}), nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
