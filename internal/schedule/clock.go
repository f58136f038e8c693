package schedule

import "time"

// Clock：时间源抽象，生产使用 RealClock，测试注入可控时钟
// After 在 d<=0 时应立即可读
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock 返回基于 time 包的时钟
func RealClock() Clock { return realClock{} }

// 文档注释：调度预言器
// 背景：给定当前时间返回严格晚于它的下一次触发时刻；第二个返回值为 false 表示再无后续触发。
type Oracle interface {
	Next(after time.Time) (time.Time, bool)
}

// OracleFunc 把普通函数适配为 Oracle
type OracleFunc func(after time.Time) (time.Time, bool)

func (f OracleFunc) Next(after time.Time) (time.Time, bool) { return f(after) }
