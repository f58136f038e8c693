package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoip_queries_total",
		Help: "Total number of lookups by result (ok, not_found, invalid, not_loaded, error)",
	}, []string{"result"})
	QueryDurationUs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoip_query_duration_us",
		Help:    "Lookup duration in microseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoip_refresh_total",
		Help: "Refresh attempts by status and failure kind",
	}, []string{"status", "kind"})
	RefreshDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoip_refresh_duration_ms",
		Help:    "Refresh duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 300000},
	})
	ArtifactBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoip_artifact_bytes",
		Help: "Size of the last downloaded artifact",
	})
	DatabaseBuildEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoip_database_build_epoch_seconds",
		Help: "Build epoch of the currently installed database",
	})
	OpenStores = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoip_open_stores",
		Help: "Number of database readers currently mapped (current plus draining)",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoip_cache_hits_total",
		Help: "Total redis cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoip_cache_misses_total",
		Help: "Total redis cache misses",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoip_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationUs)
	prometheus.MustRegister(RefreshTotal)
	prometheus.MustRegister(RefreshDurationMs)
	prometheus.MustRegister(ArtifactBytes)
	prometheus.MustRegister(DatabaseBuildEpoch)
	prometheus.MustRegister(OpenStores)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
