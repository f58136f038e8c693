// 包 schedule：驱动查询库的后台刷新，运行在服务进程内的单个协程
package schedule

import (
	"context"
	"geoip-api/internal/geoip"
	"geoip-api/internal/logger"
	"strings"
	"sync/atomic"
	"time"
)

// Fallback：计算出的下一次触发不在未来时（时钟回拨、表达式边界）改用的等待时长
const Fallback = time.Minute

// DefaultSettle：启动后首次刷新前的等待，给宿主进程留出初始化时间
const DefaultSettle = 15 * time.Second

// State：调度器状态
type State int32

const (
	StateDisabled State = iota
	StateIdle
	StateRefreshing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return "stopped"
	}
}

// Refresher：被调度的刷新动作，由 *geoip.Manager 实现
type Refresher interface {
	Refresh(ctx context.Context) geoip.Outcome
}

// Options：调度参数
// Oracle 优先于 Schedule；两者皆空则只执行一次启动刷新。Settle<0 视为 0。
type Options struct {
	Schedule string
	Oracle   Oracle
	Settle   time.Duration
	Clock    Clock
}

// 文档注释：刷新调度器
// 背景：启动后等待 Settle，无条件刷新一次（覆盖本地库缺失与“不定时但要最新”的场景），
// 之后若有调度则循环：计算下一次时刻 → 等待 → 刷新。
// 约束：
// - 刷新串行执行，刷新期间不接受新的触发；
// - 等待可被 ctx 取消，取消时 Run 干净返回；刷新进行中的取消会传递给下载与解包；
// - 调度表达式非法或缺失只让调度器进入 Disabled，不影响查询。
type Scheduler struct {
	r      Refresher
	oracle Oracle
	clock  Clock
	settle time.Duration
	state  atomic.Int32
	runs   atomic.Int64
}

func New(r Refresher, o Options) *Scheduler {
	s := &Scheduler{r: r, oracle: o.Oracle, clock: o.Clock, settle: o.Settle}
	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.settle < 0 {
		s.settle = 0
	}
	if s.oracle == nil && strings.TrimSpace(o.Schedule) != "" {
		c, err := ParseCron(o.Schedule)
		if err != nil {
			logger.L().Error("schedule_parse_error", "schedule", o.Schedule, "err", err, "hint", "automatic refresh disabled")
		} else {
			s.oracle = c
		}
	}
	if s.oracle == nil {
		s.state.Store(int32(StateDisabled))
		logger.L().Info("schedule_disabled", "reason", "no valid schedule configured")
	} else {
		s.state.Store(int32(StateIdle))
	}
	return s
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Runs 返回已执行的刷新次数（含启动刷新）
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// 文档注释：运行调度循环直到 ctx 取消或调度耗尽
// 返回：总是 nil；取消与耗尽都属于正常结束。
func (s *Scheduler) Run(ctx context.Context) error {
	l := logger.L()
	base := s.State()
	defer func() {
		if s.State() != StateDisabled {
			s.state.Store(int32(StateStopped))
		}
	}()

	if s.settle > 0 {
		l.Info("schedule_settle", "delay", s.settle.String())
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.settle):
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	s.refresh(ctx, base)
	if s.oracle == nil {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := s.clock.Now()
		next, ok := s.oracle.Next(now)
		if !ok {
			l.Warn("schedule_exhausted", "hint", "automatic refresh stopped; the current database keeps serving")
			s.state.Store(int32(StateDisabled))
			return nil
		}
		wait := next.Sub(now)
		if wait <= 0 {
			l.Warn("schedule_next_not_future", "next", next, "now", now, "fallback", Fallback.String())
			wait = Fallback
			next = now.Add(wait)
		}
		l.Info("schedule_next_refresh", "at", next.UTC().Format(time.RFC3339), "in", wait.String())
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
		s.refresh(ctx, StateIdle)
	}
}

func (s *Scheduler) refresh(ctx context.Context, after State) {
	s.state.Store(int32(StateRefreshing))
	defer s.state.Store(int32(after))
	s.runs.Add(1)
	out := s.r.Refresh(ctx)
	logger.L().Debug("schedule_refresh_finished", "status", out.Status.String(), "reason", out.Reason)
}
