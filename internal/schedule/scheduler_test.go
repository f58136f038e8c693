package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geoip-api/internal/geoip"
	"geoip-api/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Use(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// fakeClock：时间只在 Advance 时前进；waitTimers 消除注册定时器与推进时钟之间的竞态
type fakeClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []fakeWaiter
	asked   []time.Duration
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = kept
}

func (c *fakeClock) waitTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

func (c *fakeClock) requested() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.asked...)
}

type fakeRefresher struct {
	calls atomic.Int32
	done  chan struct{}
	block bool
	errs  chan error
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{done: make(chan struct{}, 64), errs: make(chan error, 64)}
}

func (f *fakeRefresher) Refresh(ctx context.Context) geoip.Outcome {
	f.calls.Add(1)
	defer func() { f.done <- struct{}{} }()
	if f.block {
		<-ctx.Done()
		f.errs <- ctx.Err()
		return geoip.Outcome{Status: geoip.StatusFailed, Err: ctx.Err()}
	}
	return geoip.Outcome{Status: geoip.StatusSuccess}
}

func (f *fakeRefresher) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not called")
	}
}

func runAsync(ctx context.Context, s *Scheduler) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Run(ctx) }()
	return ch
}

func waitReturn(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func hourly(after time.Time) (time.Time, bool) { return after.Add(time.Hour), true }

func TestNoSchedule_SingleStartupRefresh(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	s := New(r, Options{Settle: 10 * time.Second, Clock: clk})
	assert.Equal(t, StateDisabled, s.State())

	done := runAsync(context.Background(), s)
	clk.waitTimers(1)
	assert.Equal(t, int32(0), r.calls.Load(), "refresh waits for the settle delay")
	clk.Advance(10 * time.Second)
	r.waitCall(t)
	waitReturn(t, done)

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, StateDisabled, s.State())
}

func TestInvalidSchedule_DisabledButStillRefreshesOnce(t *testing.T) {
	r := newFakeRefresher()
	s := New(r, Options{Schedule: "every tuesday", Clock: newFakeClock(epoch)})
	assert.Equal(t, StateDisabled, s.State())
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestLoop_RefreshesAtOracleInstants(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	s := New(r, Options{Oracle: OracleFunc(hourly), Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)

	r.waitCall(t)
	for i := 2; i <= 4; i++ {
		clk.waitTimers(1)
		assert.Equal(t, StateIdle, s.State())
		clk.Advance(59 * time.Minute)
		assert.Equal(t, int32(i-1), r.calls.Load())
		clk.Advance(time.Minute)
		r.waitCall(t)
		assert.Equal(t, int32(i), r.calls.Load())
	}
	clk.waitTimers(1)
	cancel()
	waitReturn(t, done)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, int64(4), s.Runs())
}

func TestLoop_PastInstantUsesFallback(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	stale := OracleFunc(func(after time.Time) (time.Time, bool) { return after.Add(-time.Second), true })
	s := New(r, Options{Oracle: stale, Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	r.waitCall(t)

	// 10 分钟观察窗口内最多 10 次定时刷新，而不是空转
	for i := 0; i < 10; i++ {
		clk.waitTimers(1)
		clk.Advance(Fallback)
		r.waitCall(t)
	}
	clk.waitTimers(1)
	cancel()
	waitReturn(t, done)

	assert.Equal(t, int32(11), r.calls.Load())
	for _, d := range clk.requested() {
		assert.Equal(t, Fallback, d)
	}
}

func TestLoop_ExhaustedScheduleStops(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	n := 0
	once := OracleFunc(func(after time.Time) (time.Time, bool) {
		n++
		if n > 1 {
			return time.Time{}, false
		}
		return after.Add(time.Minute * 5), true
	})
	s := New(r, Options{Oracle: once, Clock: clk})
	done := runAsync(context.Background(), s)
	r.waitCall(t)
	clk.waitTimers(1)
	clk.Advance(5 * time.Minute)
	r.waitCall(t)
	waitReturn(t, done)
	assert.Equal(t, int32(2), r.calls.Load())
	assert.Equal(t, StateDisabled, s.State())
}

func TestCancelDuringSettle(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	s := New(r, Options{Oracle: OracleFunc(hourly), Settle: time.Minute, Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	clk.waitTimers(1)
	cancel()
	waitReturn(t, done)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestCancelledBeforeStart_NoRefresh(t *testing.T) {
	r := newFakeRefresher()
	s := New(r, Options{Oracle: OracleFunc(hourly), Clock: newFakeClock(epoch)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(0), r.calls.Load())
	assert.Equal(t, StateStopped, s.State())
}

func TestCancelDuringRefreshPropagates(t *testing.T) {
	clk := newFakeClock(epoch)
	r := newFakeRefresher()
	r.block = true
	s := New(r, Options{Oracle: OracleFunc(hourly), Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, 2*time.Second, time.Millisecond)
	cancel()
	r.waitCall(t)
	waitReturn(t, done)
	assert.ErrorIs(t, <-r.errs, context.Canceled)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disabled", StateDisabled.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
