package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tame/internal/config"
	"tame/internal/eventbus"
	"tame/internal/notification"
	"tame/internal/patterns"
	logx "tame/pkg/logx"
)

type dispatched struct {
	kind                       notification.Kind
	id, name, message, matched string
}

type recorder struct {
	mu    sync.Mutex
	calls []dispatched
}

func (r *recorder) Dispatch(kind notification.Kind, id, name, message, matched string) notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatched{kind, id, name, message, matched})
	return notification.Event{Kind: kind, SessionID: id, SessionName: name, Message: message, MatchedText: matched}
}

func (r *recorder) snapshot() []dispatched {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatched(nil), r.calls...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newMonitor(t *testing.T, cfg config.SessionSettings, opts ...Option) (*Monitor, *recorder, *clock) {
	t.Helper()
	matcher := patterns.New(map[string][]string{
		"error":       {`error:`},
		"prompt":      {`\[y/n\]`},
		"weak_prompt": {`\?\s*$`},
		"completion":  {`task completed`},
		"progress":    {`\d+%`},
	}, logx.Nop())
	rec := &recorder{}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return New(matcher, rec, cfg, logx.Nop(), opts...), rec, clk
}

func TestKindFor(t *testing.T) {
	cases := map[string]notification.Kind{
		patterns.CategoryError:      notification.KindError,
		patterns.CategoryPrompt:     notification.KindInputNeeded,
		patterns.CategoryWeakPrompt: notification.KindInputNeeded,
		patterns.CategoryCompletion: notification.KindCompleted,
	}
	for cat, want := range cases {
		got, ok := KindFor(cat)
		assert.True(t, ok, cat)
		assert.Equal(t, want, got, cat)
	}
	for _, cat := range []string{patterns.CategoryProgress, "custom", ""} {
		_, ok := KindFor(cat)
		assert.False(t, ok, cat)
	}
}

func TestFeedDispatchesClassifiedLines(t *testing.T) {
	m, rec, _ := newMonitor(t, config.SessionSettings{})

	ev, ok := m.Feed("s1", "build", "\x1b[31mError: disk full\x1b[0m")
	require.True(t, ok)
	assert.Equal(t, notification.KindError, ev.Kind)

	_, ok = m.Feed("s1", "", "Continue? [y/n]")
	require.True(t, ok)
	_, ok = m.Feed("s1", "", "Downloading 45%")
	assert.False(t, ok)
	_, ok = m.Feed("s1", "", "   ")
	assert.False(t, ok)

	calls := rec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, dispatched{notification.KindError, "s1", "build", "Error: disk full", "Error:"}, calls[0])
	assert.Equal(t, notification.KindInputNeeded, calls[1].kind)
	assert.Equal(t, "build", calls[1].name)
}

func TestFeedCollapsesRepeatsWithinDebounce(t *testing.T) {
	m, rec, clk := newMonitor(t, config.SessionSettings{StateDebounceMS: 2000})

	_, ok := m.Feed("s1", "", "error: one")
	require.True(t, ok)
	clk.advance(500 * time.Millisecond)
	_, ok = m.Feed("s1", "", "error: two")
	assert.False(t, ok)

	// Different session and different kind are independent.
	_, ok = m.Feed("s2", "", "error: three")
	assert.True(t, ok)
	_, ok = m.Feed("s1", "", "task completed")
	assert.True(t, ok)

	clk.advance(2 * time.Second)
	_, ok = m.Feed("s1", "", "error: four")
	assert.True(t, ok)

	assert.Len(t, rec.snapshot(), 4)
}

func TestFeedPublishesScannedLines(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, eventbus.TopicLineScanned)
	defer unsub()

	m, _, _ := newMonitor(t, config.SessionSettings{}, WithBus(bus))
	m.Feed("s1", "", "Downloading 45%")
	m.Feed("s1", "", "plain text")

	got := []eventbus.Scanned{(<-ch).Data.(eventbus.Scanned), (<-ch).Data.(eventbus.Scanned)}
	assert.Equal(t, eventbus.Scanned{SessionID: "s1", Category: "progress"}, got[0])
	assert.Equal(t, eventbus.Scanned{SessionID: "s1"}, got[1])
}

func TestSweepIdle(t *testing.T) {
	m, rec, clk := newMonitor(t, config.SessionSettings{IdleThresholdSeconds: 60})

	m.Feed("s1", "alpha", "working")
	clk.advance(30 * time.Second)
	m.Feed("s2", "beta", "working")

	clk.advance(31 * time.Second)
	evs := m.SweepIdle(clk.now())
	require.Len(t, evs, 1)
	assert.Equal(t, "s1", evs[0].SessionID)
	assert.Equal(t, "no output for 1m1s", evs[0].Message)

	// One notification per quiet period.
	clk.advance(time.Minute)
	evs = m.SweepIdle(clk.now())
	require.Len(t, evs, 1)
	assert.Equal(t, "s2", evs[0].SessionID)
	assert.Empty(t, m.SweepIdle(clk.now()))

	// New output re-arms the session.
	m.Feed("s1", "", "more")
	clk.advance(2 * time.Minute)
	evs = m.SweepIdle(clk.now())
	require.Len(t, evs, 1)
	assert.Equal(t, "s1", evs[0].SessionID)
	assert.Len(t, rec.snapshot(), 3)
}

func TestSweepIdleDisabled(t *testing.T) {
	m, _, clk := newMonitor(t, config.SessionSettings{IdleThresholdSeconds: 0})
	m.Feed("s1", "", "x")
	clk.advance(time.Hour)
	assert.Empty(t, m.SweepIdle(clk.now()))
}

func TestForget(t *testing.T) {
	m, _, _ := newMonitor(t, config.SessionSettings{})
	m.Feed("s1", "", "x")
	m.Feed("s2", "", "x")
	assert.Equal(t, 2, m.Sessions())
	m.Forget("s1")
	assert.Equal(t, 1, m.Sessions())
}

func TestSetMatcherSwaps(t *testing.T) {
	m, _, _ := newMonitor(t, config.SessionSettings{})
	m.SetMatcher(patterns.New(map[string][]string{"completion": {`all good`}}, logx.Nop()))

	_, ok := m.Feed("s1", "", "error: nope")
	assert.False(t, ok)
	ev, ok := m.Feed("s1", "", "ALL GOOD")
	require.True(t, ok)
	assert.Equal(t, notification.KindCompleted, ev.Kind)
}

func TestRunIdleSweepRecoversFromBadSpec(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, rec, clk := newMonitor(t, config.SessionSettings{IdleThresholdSeconds: 1, IdleCheck: "every now and then"})
	m.Feed("s1", "", "hello")
	clk.advance(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunIdleSweep(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.cron != nil
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, m.RunIdleSweep(ctx))

	m.Apply(config.SessionSettings{IdleThresholdSeconds: 1, IdleCheck: "@every 1s"})
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunIdleSweepSchedules(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, rec, clk := newMonitor(t, config.SessionSettings{IdleThresholdSeconds: 1, IdleCheck: "@every 1s"})
	m.Feed("s1", "", "hello")
	clk.advance(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunIdleSweep(ctx) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, notification.KindSessionIdle, rec.snapshot()[0].kind)

	// Rescheduling while running keeps the loop alive.
	m.Apply(config.SessionSettings{IdleThresholdSeconds: 1, IdleCheck: "@every 2s"})

	cancel()
	require.NoError(t, <-done)
}
