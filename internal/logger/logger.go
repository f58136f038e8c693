// 包 logger：统一初始化与获取日志器，避免各模块重复配置；通过环境变量控制日志级别、输出格式与源码位置
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// 默认日志器：进程级复用；原子指针保证后台刷新协程与请求协程并发读取安全
var defaultLogger atomic.Pointer[slog.Logger]

// ParseLevel：把 LOG_LEVEL 风格的字符串转换为 slog 级别，未知值回退到 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup：初始化默认日志器
// 背景：集中化日志配置，便于按环境统一调整级别与格式；LOG_FORMAT=json 输出结构化 JSON，LOG_SOURCE=true 附带源码位置
// 约束：输出目标固定为标准错误；同时设置为 slog 默认日志器，第三方库经 slog 的输出也走同一通道
func Setup() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		AddSource: strings.EqualFold(os.Getenv("LOG_SOURCE"), "true"),
	}
	var h slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	l := slog.New(h).With("service", "geoip")
	defaultLogger.Store(l)
	slog.SetDefault(l)
	return l
}

// Use：替换默认日志器（测试中用于静音或捕获输出）
func Use(l *slog.Logger) { defaultLogger.Store(l) }

// L：获取默认日志器
// 背景：为业务代码提供快捷访问；若未初始化则回退到 Setup
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return Setup()
}
