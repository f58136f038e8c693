package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// 文档注释：基于 cron 表达式的调度预言器
// 背景：标准 5 段表达式（分 时 日 月 周），默认按 UTC 计算；可用 CRON_TZ=Asia/Shanghai 前缀指定时区，
// 也接受 @daily、@weekly 等描述符。
type CronOracle struct {
	expr  string
	sched cron.Schedule
}

// ParseCron 解析表达式；空串或非法表达式返回 error
func ParseCron(expr string) (*CronOracle, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	return &CronOracle{expr: expr, sched: s}, nil
}

// Next 返回严格晚于 after 的下一次触发；表达式在可搜索范围内永不匹配（如 2 月 30 日）时返回 false
func (c *CronOracle) Next(after time.Time) (time.Time, bool) {
	n := c.sched.Next(after)
	if n.IsZero() {
		return time.Time{}, false
	}
	return n, true
}

func (c *CronOracle) String() string { return c.expr }
