// Package monitor turns raw session output into notifications: it strips
// terminal escapes, classifies each line, collapses repeats and reports
// sessions that went quiet.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/robfig/cron/v3"

	"tame/internal/config"
	"tame/internal/eventbus"
	"tame/internal/notification"
	"tame/internal/patterns"
	logx "tame/pkg/logx"
)

// Dispatcher is the part of notification.Engine the monitor needs.
type Dispatcher interface {
	Dispatch(kind notification.Kind, sessionID, sessionName, message, matchedText string) notification.Event
}

// KindFor maps a matcher category to the notification it raises.
// progress and extra categories only count as activity.
func KindFor(category string) (notification.Kind, bool) {
	switch category {
	case patterns.CategoryError:
		return notification.KindError, true
	case patterns.CategoryPrompt, patterns.CategoryWeakPrompt:
		return notification.KindInputNeeded, true
	case patterns.CategoryCompletion:
		return notification.KindCompleted, true
	default:
		return 0, false
	}
}

const maxMessageRunes = 500

type session struct {
	name     string
	lastLine time.Time
	lastKind map[notification.Kind]time.Time
	idleSent bool
}

type Option func(*Monitor)

func WithBus(b eventbus.Bus) Option { return func(m *Monitor) { m.bus = b } }

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor is safe for concurrent use; several sessions may feed it at once.
type Monitor struct {
	log  logx.Logger
	bus  eventbus.Bus
	disp Dispatcher
	now  func() time.Time

	mu       sync.Mutex
	matcher  *patterns.Matcher
	cfg      config.SessionSettings
	sessions map[string]*session

	cron   *cron.Cron
	entry  cron.EntryID
	hasJob bool
	parser cron.Parser
}

func New(matcher *patterns.Matcher, disp Dispatcher, cfg config.SessionSettings, log logx.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		log:      log,
		disp:     disp,
		now:      time.Now,
		matcher:  matcher,
		cfg:      cfg,
		sessions: map[string]*session{},
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetMatcher swaps the matcher, e.g. after a config reload.
func (m *Monitor) SetMatcher(matcher *patterns.Matcher) {
	m.mu.Lock()
	m.matcher = matcher
	m.mu.Unlock()
}

// Apply swaps session settings. A changed idle_check spec reschedules the
// running sweep.
func (m *Monitor) Apply(cfg config.SessionSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.cfg.IdleCheck
	m.cfg = cfg
	if m.cron != nil && strings.TrimSpace(prev) != strings.TrimSpace(cfg.IdleCheck) {
		if err := m.scheduleLocked(); err != nil {
			m.log.Warn("invalid idle_check schedule; idle sweep disabled", logx.String("spec", cfg.IdleCheck), logx.Err(err))
		}
	}
}

// Feed classifies one line of output. It returns the dispatched event, if
// any. A repeat of the same kind for the same session within the state
// debounce window is collapsed.
func (m *Monitor) Feed(sessionID, sessionName, line string) (notification.Event, bool) {
	clean := strings.TrimSpace(ansi.Strip(line))
	now := m.now()

	m.mu.Lock()
	s := m.sessionLocked(sessionID, sessionName)
	s.lastLine = now
	s.idleSent = false
	matcher := m.matcher
	debounce := m.cfg.StateDebounce()
	m.mu.Unlock()

	if clean == "" {
		return notification.Event{}, false
	}
	match, ok := matcher.Scan(clean)
	m.publish(eventbus.TopicLineScanned, eventbus.Scanned{SessionID: sessionID, Category: match.Category})
	if !ok {
		return notification.Event{}, false
	}
	kind, notifies := KindFor(match.Category)
	if !notifies {
		return notification.Event{}, false
	}

	m.mu.Lock()
	last, seen := s.lastKind[kind]
	if seen && debounce > 0 && now.Sub(last) < debounce {
		m.mu.Unlock()
		m.log.Debug("repeat notification collapsed", logx.String("session", sessionID), logx.String("kind", kind.String()))
		return notification.Event{}, false
	}
	s.lastKind[kind] = now
	name := s.name
	m.mu.Unlock()

	return m.disp.Dispatch(kind, sessionID, name, truncate(clean, maxMessageRunes), match.MatchedText), true
}

// SweepIdle raises one SESSION_IDLE per quiet period for every session with
// no output for idle_threshold_seconds. A threshold of 0 disables it.
func (m *Monitor) SweepIdle(now time.Time) []notification.Event {
	type due struct {
		id, name string
		quiet    time.Duration
	}

	m.mu.Lock()
	threshold := m.cfg.IdleThreshold()
	var pending []due
	if threshold > 0 {
		for id, s := range m.sessions {
			if s.idleSent || s.lastLine.IsZero() {
				continue
			}
			if quiet := now.Sub(s.lastLine); quiet >= threshold {
				s.idleSent = true
				pending = append(pending, due{id, s.name, quiet})
			}
		}
	}
	m.mu.Unlock()

	out := make([]notification.Event, 0, len(pending))
	for _, d := range pending {
		msg := fmt.Sprintf("no output for %s", d.quiet.Truncate(time.Second))
		out = append(out, m.disp.Dispatch(notification.KindSessionIdle, d.id, d.name, msg, ""))
	}
	return out
}

// Forget drops a session's state, e.g. when its stream ends.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Sessions returns the number of tracked sessions.
func (m *Monitor) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunIdleSweep runs SweepIdle on the sessions.idle_check cron spec until
// ctx is done. An invalid spec is logged and leaves the sweep idle until
// Apply installs a valid one.
func (m *Monitor) RunIdleSweep(ctx context.Context) error {
	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		return errors.New("idle sweep already running")
	}
	m.cron = cron.New(cron.WithParser(m.parser))
	if err := m.scheduleLocked(); err != nil {
		m.log.Warn("invalid idle_check schedule; idle sweep disabled", logx.String("spec", m.cfg.IdleCheck), logx.Err(err))
	}
	c := m.cron
	m.mu.Unlock()

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	m.mu.Lock()
	m.cron = nil
	m.hasJob = false
	m.mu.Unlock()
	return nil
}

func (m *Monitor) scheduleLocked() error {
	if m.hasJob {
		m.cron.Remove(m.entry)
		m.hasJob = false
	}
	spec := strings.TrimSpace(m.cfg.IdleCheck)
	if spec == "" {
		return nil
	}
	sched, err := m.parser.Parse(spec)
	if err != nil {
		return err
	}
	m.entry = m.cron.Schedule(sched, cron.FuncJob(func() { m.SweepIdle(m.now()) }))
	m.hasJob = true
	return nil
}

func (m *Monitor) sessionLocked(id, name string) *session {
	s, ok := m.sessions[id]
	if !ok {
		s = &session{lastKind: map[notification.Kind]time.Time{}}
		m.sessions[id] = s
	}
	if name != "" {
		s.name = name
	}
	return s
}

func (m *Monitor) publish(topic string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
