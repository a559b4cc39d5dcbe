package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tame/internal/config"
	"tame/internal/eventbus"
	logx "tame/pkg/logx"
)

// Surface names an in-app delivery hook.
type Surface string

const (
	SurfaceDesktop      Surface = "desktop"
	SurfaceAudio        Surface = "audio"
	SurfaceToast        Surface = "toast"
	SurfaceSidebarFlash Surface = "sidebar_flash"
)

var surfaces = []Surface{SurfaceDesktop, SurfaceAudio, SurfaceToast, SurfaceSidebarFlash}

// Hook delivers an event to one in-app surface.
type Hook interface {
	Notify(ctx context.Context, ev Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, ev Event) error

func (f HookFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Outbound is an external channel (chat webhook, Telegram, ...). Notify must
// not block; the channel applies its own filtering.
type Outbound interface {
	Name() string
	Notify(ev Event)
}

// Journal persists events. AppendEvent is called off the dispatch path.
type Journal interface {
	AppendEvent(ctx context.Context, ev Event) error
}

// Suppression reasons reported on the bus.
const (
	ReasonDoNotDisturb = "do_not_disturb"
	ReasonDisabled     = "notifications_disabled"
)

const (
	hookTimeout      = 5 * time.Second
	journalQueueSize = 256
	// maxHookInflight caps concurrent calls per surface; a hook stuck past
	// this many events drops further ones instead of piling up goroutines.
	maxHookInflight = 4
)

type Option func(*Engine)

func WithHook(surface Surface, h Hook) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks[surface] = h
		}
	}
}

// WithOutbound appends a channel. Channels are notified in the order added.
func WithOutbound(ch Outbound) Option {
	return func(e *Engine) {
		if ch != nil {
			e.outbound = append(e.outbound, ch)
		}
	}
}

func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
			e.journalQ = make(chan Event, journalQueueSize)
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithClock overrides time.Now for event timestamps and the do-not-disturb check.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine builds events, records them in History and routes them.
// Dispatch is safe for concurrent use.
type Engine struct {
	log     logx.Logger
	history *History
	bus     eventbus.Bus
	now     func() time.Time

	journal  Journal
	journalQ chan Event

	hookSlots map[Surface]chan struct{}
	hookWG    sync.WaitGroup

	mu       sync.RWMutex
	cfg      config.NotificationSettings
	dnd      dndWindow
	hooks    map[Surface]Hook
	outbound []Outbound
}

func NewEngine(cfg config.NotificationSettings, history *History, log logx.Logger, opts ...Option) *Engine {
	if history == nil {
		history = NewHistory(cfg.HistoryMax)
	}
	e := &Engine{
		log:     log,
		history: history,
		now:     time.Now,
		hooks:   map[Surface]Hook{},
	}
	e.hookSlots = make(map[Surface]chan struct{}, len(surfaces))
	for _, s := range surfaces {
		e.hookSlots[s] = make(chan struct{}, maxHookInflight)
	}
	for _, o := range opts {
		o(e)
	}
	e.Apply(cfg)
	return e
}

func (e *Engine) History() *History { return e.history }

// Apply swaps the routing and do-not-disturb configuration.
func (e *Engine) Apply(cfg config.NotificationSettings) {
	win, err := parseDNDWindow(cfg.DNDStart, cfg.DNDEnd)
	if err != nil {
		if cfg.DoNotDisturb {
			e.log.Warn("invalid do-not-disturb window; do-not-disturb disabled",
				logx.String("dnd_start", cfg.DNDStart),
				logx.String("dnd_end", cfg.DNDEnd),
				logx.Err(err),
			)
		}
		cfg.DoNotDisturb = false
	}
	e.mu.Lock()
	e.cfg = cfg
	e.dnd = win
	e.mu.Unlock()
}

// SetHook installs or replaces (nil removes) the hook for a surface.
func (e *Engine) SetHook(surface Surface, h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.hooks, surface)
		return
	}
	e.hooks[surface] = h
}

// SetOutbound replaces the outbound channels, e.g. after a config reload.
func (e *Engine) SetOutbound(chs ...Outbound) {
	out := make([]Outbound, 0, len(chs))
	for _, ch := range chs {
		if ch != nil {
			out = append(out, ch)
		}
	}
	e.mu.Lock()
	e.outbound = out
	e.mu.Unlock()
}

// Dispatch records a notification and delivers it wherever routing allows.
// Hooks run in their own goroutines and outbound channels queue internally,
// so Dispatch never waits on a surface. Failures are logged and never returned.
func (e *Engine) Dispatch(kind Kind, sessionID, sessionName, message, matchedText string) Event {
	ev := Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		SessionID:   sessionID,
		SessionName: sessionName,
		Message:     message,
		Priority:    kind.Priority(),
		Timestamp:   e.now(),
		MatchedText: matchedText,
	}

	e.history.Add(ev)
	e.record(ev)

	e.mu.RLock()
	cfg := e.cfg
	dnd := e.dnd
	hooks := make(map[Surface]Hook, len(e.hooks))
	for s, h := range e.hooks {
		hooks[s] = h
	}
	outbound := append([]Outbound(nil), e.outbound...)
	e.mu.RUnlock()

	if !cfg.Enabled {
		e.suppressed(ev, ReasonDisabled)
		return ev
	}
	if cfg.DoNotDisturb && dnd.contains(ev.Timestamp) {
		e.suppressed(ev, ReasonDoNotDisturb)
		return ev
	}

	rule := cfg.Routing[kind.String()]
	for _, surface := range surfaces {
		h, ok := hooks[surface]
		if !ok || !routed(cfg, rule, surface) {
			continue
		}
		e.goHook(surface, h, ev)
	}

	for _, ch := range outbound {
		e.callOutbound(ch, ev)
	}
	return ev
}

func routed(cfg config.NotificationSettings, rule config.RoutingRule, s Surface) bool {
	switch s {
	case SurfaceDesktop:
		return rule.Desktop && cfg.Desktop.Enabled
	case SurfaceAudio:
		return rule.Audio && cfg.Audio.Enabled
	case SurfaceToast:
		return rule.Toast && cfg.Toast.Enabled
	case SurfaceSidebarFlash:
		return rule.SidebarFlash
	default:
		return false
	}
}

func (e *Engine) goHook(surface Surface, h Hook, ev Event) {
	slot := e.hookSlots[surface]
	select {
	case slot <- struct{}{}:
	default:
		e.log.Warn("notification hook busy; event skipped",
			logx.String("surface", string(surface)),
			logx.String("kind", ev.Kind.String()),
		)
		return
	}
	e.hookWG.Add(1)
	go func() {
		defer e.hookWG.Done()
		defer func() { <-slot }()
		e.callHook(surface, h, ev)
	}()
}

// WaitHooks blocks until every hook call started so far has returned, or ctx
// is done.
func (e *Engine) WaitHooks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.hookWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) callHook(surface Surface, h Hook, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notification hook panicked", logx.String("surface", string(surface)), logx.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := h.Notify(ctx, ev); err != nil {
		e.log.Warn("notification hook failed",
			logx.String("surface", string(surface)),
			logx.String("kind", ev.Kind.String()),
			logx.Err(err),
		)
	}
}

func (e *Engine) callOutbound(ch Outbound, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("outbound channel panicked", logx.String("channel", ch.Name()), logx.Any("panic", r))
		}
	}()
	ch.Notify(ev)
}

func (e *Engine) record(ev Event) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TopicNotificationRecorded, Data: ev})
	}
	if e.journalQ == nil {
		return
	}
	select {
	case e.journalQ <- ev:
	default:
		e.log.Warn("journal queue full; event not persisted", logx.String("id", ev.ID))
	}
}

func (e *Engine) suppressed(ev Event, reason string) {
	e.log.Debug("notification delivery suppressed", logx.String("kind", ev.Kind.String()), logx.String("reason", reason))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.TopicNotificationSuppressed,
			Data: eventbus.Suppressed{EventID: ev.ID, Kind: ev.Kind.String(), Reason: reason},
		})
	}
}

// RunJournal writes queued events to the journal until ctx is canceled,
// then flushes what is already queued. It returns nil when no journal is
// configured.
func (e *Engine) RunJournal(ctx context.Context) error {
	if e.journalQ == nil {
		return nil
	}
	for {
		select {
		case ev := <-e.journalQ:
			e.persist(ctx, ev)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-e.journalQ:
					e.persist(flushCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (e *Engine) persist(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := e.journal.AppendEvent(cctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("journal append failed", logx.String("id", ev.ID), logx.Err(err))
	}
}

// dndWindow is a daily time range in minutes since midnight, [start, end).
// start > end wraps past midnight; start == end covers the whole day.
type dndWindow struct {
	start, end int
}

func (w dndWindow) contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	switch {
	case w.start == w.end:
		return true
	case w.start < w.end:
		return m >= w.start && m < w.end
	default:
		return m >= w.start || m < w.end
	}
}

// parseDNDWindow treats an empty start as midnight and an empty end as the
// end of the day, so two empty values cover the whole day.
func parseDNDWindow(start, end string) (dndWindow, error) {
	w := dndWindow{start: 0, end: 24 * 60}
	if strings.TrimSpace(start) != "" {
		h, m, err := parseHHMM(start)
		if err != nil {
			return dndWindow{}, fmt.Errorf("dnd_start: %w", err)
		}
		w.start = h*60 + m
	}
	if strings.TrimSpace(end) != "" {
		h, m, err := parseHHMM(end)
		if err != nil {
			return dndWindow{}, fmt.Errorf("dnd_end: %w", err)
		}
		w.end = h*60 + m
	}
	return w, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
