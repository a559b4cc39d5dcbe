package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tame/internal/config"
	"tame/internal/desktop"
	"tame/internal/eventbus"
	"tame/internal/monitor"
	"tame/internal/notification"
	"tame/internal/notifier"
	"tame/internal/observability"
	"tame/internal/patterns"
	rtsup "tame/internal/runtime/supervisor"
	"tame/internal/storage"
	logx "tame/pkg/logx"
)

// Options are the command-line inputs to NewApp.
type Options struct {
	// ConfigPath overrides the XDG default.
	ConfigPath string
	// Shell adds the shell_regexes lists to the matcher.
	Shell bool
	// Bell receives the audio bell. Defaults to stderr.
	Bell io.Writer
	// HTTPClient is used by outbound channels. nil means per-channel defaults.
	HTTPClient *http.Client
	// TelegramAPI overrides the Bot API base URL.
	TelegramAPI string
}

// App wires config, classification, the notification engine and its
// delivery surfaces into one supervised process.
type App struct {
	opts Options

	cfgs *config.Store
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *notification.Engine
	monitor *monitor.Monitor
	metrics *observability.Metrics
	server  *observability.Server
	desktop *desktop.Desktop
	audio   *desktop.Audio

	mu       sync.Mutex
	settings config.Settings
	channels []*notifier.Channel
}

func NewApp(opts Options) (*App, error) {
	if opts.Bell == nil {
		opts.Bell = os.Stderr
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgs := config.NewStore(opts.ConfigPath, bootLog)
	doc := cfgs.Load()
	settings := cfgs.Settings()

	logSvc, log := logx.New(mapLogConfig(settings.General))
	cfgs.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	ns := settings.Notifications
	history := notification.NewHistory(ns.HistoryMax)

	// Journal (optional). A broken journal never stops monitoring.
	jcfg := mapJournalConfig(ns.Journal, ns.HistoryMax)
	store, err := storage.Open(jcfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Warn("journal unavailable; history kept in memory only", logx.String("driver", jcfg.Driver), logx.Err(err))
		store = nil
	}
	if store != nil {
		log.Info("journal enabled", logx.String("driver", jcfg.Driver))
		preloadHistory(store, history, ns.HistoryMax, log)
	}

	a := &App{
		opts:     opts,
		cfgs:     cfgs,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		settings: settings,
		desktop:  desktop.NewDesktop(ns.Desktop),
		audio:    desktop.NewAudio(ns.Audio, ns.Audio.BackendPreference, opts.Bell),
	}

	engOpts := []notification.Option{
		notification.WithBus(bus),
		notification.WithHook(notification.SurfaceDesktop, a.desktop),
		notification.WithHook(notification.SurfaceAudio, a.audio),
		notification.WithHook(notification.SurfaceToast, desktop.NewToast(log.With(logx.String("comp", "toast")))),
	}
	if store != nil {
		engOpts = append(engOpts, notification.WithJournal(store))
	}
	a.engine = notification.NewEngine(ns, history, log.With(logx.String("comp", "notification")), engOpts...)

	matcher := patterns.New(patterns.FromDocument(doc, opts.Shell), log.With(logx.String("comp", "patterns")))
	a.monitor = monitor.New(matcher, a.engine, settings.Sessions, log.With(logx.String("comp", "monitor")), monitor.WithBus(bus))

	a.metrics = observability.NewMetrics(bus.Dropped)
	a.server = observability.NewServer(mapServerConfig(settings.General), a.metrics.Handler(), log)

	a.channels = a.buildChannels(ns)
	a.engine.SetOutbound(outbound(a.channels)...)

	return a, nil
}

func preloadHistory(store storage.Store, history *notification.History, n int, log logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := store.RecentEvents(ctx, n)
	if err != nil {
		log.Warn("failed loading journaled history", logx.Err(err))
		return
	}
	for _, ev := range events {
		history.Add(ev)
	}
	if len(events) > 0 {
		log.Debug("history preloaded", logx.Int("events", len(events)))
	}
}

// buildChannels constructs the enabled outbound channels. A channel that
// cannot be built is logged and skipped.
func (a *App) buildChannels(ns config.NotificationSettings) []*notifier.Channel {
	chLog := a.log.With(logx.String("comp", "notifier"))
	var out []*notifier.Channel

	if ch := notifier.NewWebhook(ns.Slack, a.opts.HTTPClient, chLog.With(logx.String("channel", "webhook")), a.bus); ch.Enabled() {
		out = append(out, ch)
	}
	tg, err := notifier.NewTelegram(ns.Telegram, notifier.TelegramOptions{APIURL: a.opts.TelegramAPI, Client: a.opts.HTTPClient},
		chLog.With(logx.String("channel", "telegram")), a.bus)
	if err != nil {
		a.log.Warn("telegram channel disabled", logx.Err(err))
	} else if tg.Enabled() {
		out = append(out, tg)
	}
	sh, err := notifier.NewShoutrrr(ns.Shoutrrr, chLog.With(logx.String("channel", "shoutrrr")), a.bus)
	if err != nil {
		a.log.Warn("shoutrrr channel disabled", logx.Err(err))
	} else if sh.Enabled() {
		out = append(out, sh)
	}
	return out
}

func outbound(chs []*notifier.Channel) []notification.Outbound {
	out := make([]notification.Outbound, 0, len(chs))
	for _, ch := range chs {
		out = append(out, ch)
	}
	return out
}

func (a *App) Engine() *notification.Engine    { return a.engine }
func (a *App) Monitor() *monitor.Monitor       { return a.monitor }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Metrics() *observability.Metrics { return a.metrics }
func (a *App) ConfigPath() string              { return a.cfgs.Path() }

// Settings returns the settings currently applied.
func (a *App) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.metrics.WatchSupervisor(a.sup)
	runCtx := a.sup.Context()

	a.mu.Lock()
	for _, ch := range a.channels {
		ch.Start(runCtx)
	}
	a.mu.Unlock()

	a.sup.Go("journal.writer", a.engine.RunJournal)
	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.log)
	})
	a.sup.Go("idle.sweep", a.monitor.RunIdleSweep)
	a.server.Start(runCtx)

	// Keep this debug-level; line.scanned fires for every line.
	events, unsub := a.bus.Subscribe(128, "notification.", "delivery.", "config.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgs.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgs.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case doc, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest document.
				for more := true; more; {
					select {
					case newer, ok := <-sub:
						if ok && newer != nil {
							doc = newer
						}
					default:
						more = false
					}
				}
				a.applyDocument(c, doc)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgs.Watch)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("app started", logx.String("config", a.cfgs.Path()), logx.Int("channels", len(a.channels)))
	return nil
}

// applyDocument pushes a reloaded config into every running component.
func (a *App) applyDocument(ctx context.Context, doc config.Document) {
	next, err := config.Decode(doc)
	if err != nil {
		a.log.Warn("reloaded config values of the wrong type replaced by defaults", logx.Err(err))
	}

	prev := a.Settings()

	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
		a.log.Debug("config change summary", fields...)
	}

	a.logs.Apply(mapLogConfig(next.General))

	ns := next.Notifications
	a.engine.Apply(ns)
	a.desktop.Apply(ns.Desktop)
	a.audio.Apply(ns.Audio, ns.Audio.BackendPreference)

	// Patterns live outside the typed view; rebuild the matcher every time.
	a.monitor.SetMatcher(patterns.New(patterns.FromDocument(doc, a.opts.Shell), a.log.With(logx.String("comp", "patterns"))))
	a.monitor.Apply(next.Sessions)

	if slices.ContainsFunc(sections, func(s string) bool { return s == "slack" || s == "telegram" || s == "shoutrrr" }) {
		a.swapChannels(ctx, ns)
	}
	if slices.Contains(sections, "journal") {
		a.log.Warn("journal config changed; restart required for changes to take effect")
	}
	a.server.Reconfigure(ctx, mapServerConfig(next.General))

	a.mu.Lock()
	a.settings = next
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Data: sections})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

// swapChannels starts the new channel set before retiring the old one so
// no event falls between the two.
func (a *App) swapChannels(ctx context.Context, ns config.NotificationSettings) {
	fresh := a.buildChannels(ns)
	for _, ch := range fresh {
		ch.Start(ctx)
	}
	a.engine.SetOutbound(outbound(fresh)...)

	a.mu.Lock()
	old := a.channels
	a.channels = fresh
	a.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, ch := range old {
		ch.Stop(stopCtx)
	}
	a.log.Info("outbound channels rebuilt", logx.Int("channels", len(fresh)))
}

// Feed classifies one line from a session.
func (a *App) Feed(sessionID, sessionName, line string) (notification.Event, bool) {
	return a.monitor.Feed(sessionID, sessionName, line)
}

// FeedReader feeds r line by line until EOF or ctx is done. The session is
// forgotten once its stream ends.
func (a *App) FeedReader(ctx context.Context, sessionID, sessionName string, r io.Reader) error {
	defer a.monitor.Forget(sessionID)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("read %s: %w", sessionID, err)
					}
				default:
				}
				return nil
			}
			a.monitor.Feed(sessionID, sessionName, line)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug-server", time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("hooks", 2*time.Second, a.engine.WaitHooks)
	step("channels", 3*time.Second, func(c context.Context) error {
		a.mu.Lock()
		chs := a.channels
		a.mu.Unlock()
		for _, ch := range chs {
			ch.Stop(c)
		}
		return nil
	})
	// Waiting here also lets the journal writer flush queued events.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
