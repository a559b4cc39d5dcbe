package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"tame/internal/eventbus"
	"tame/internal/notification"
	rtsup "tame/internal/runtime/supervisor"
	logx "tame/pkg/logx"
)

type job struct {
	msg Message
}

// Channel is the async delivery pipeline shared by every outbound service.
// It is safe for concurrent use.
type Channel struct {
	name   string
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	dedup     *gocache.Cache
	accepting bool
	queue     chan job
	sup       *rtsup.Supervisor
	sendWG    sync.WaitGroup
	stopDone  chan struct{}
}

// NewChannel builds a channel. It delivers nothing until Start.
func NewChannel(name string, cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{
		name:    name,
		sender:  sender,
		log:     log.With(logx.String("channel", name)),
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	if cfg.DedupWindow > 0 {
		// No janitor goroutine: Submit purges expired keys itself, so a
		// rebuilt channel leaves nothing running behind.
		c.dedup = gocache.New(cfg.DedupWindow, 0)
	}
	return c
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Enabled && c.sender != nil
}

// Start launches the worker pool. It is a no-op when the channel is disabled
// or already running.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopDone != nil {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.queue != nil || !c.cfg.Enabled || c.sender == nil {
		return
	}

	c.queue = make(chan job, c.cfg.QueueSize)
	c.accepting = true
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)
	q := c.queue
	for i := 0; i < c.cfg.Workers; i++ {
		// A panicking send restarts the worker; a closed queue ends it.
		c.sup.GoRestart(fmt.Sprintf("%s.worker.%d", c.name, i), func(ctx context.Context) error {
			c.workerLoop(ctx, q)
			return nil
		})
	}
}

// Notify submits ev, logging why it was not queued. It never blocks.
func (c *Channel) Notify(ev notification.Event) {
	err := c.Submit(ev)
	switch {
	case err == nil, errors.Is(err, ErrDisabled), errors.Is(err, ErrFiltered), errors.Is(err, ErrDuplicate):
	case errors.Is(err, ErrQueueFull):
		c.log.Warn("notification dropped: queue full", logx.String("id", ev.ID), logx.String("kind", ev.Kind.String()))
	default:
		c.log.Debug("notification not queued", logx.String("id", ev.ID), logx.Err(err))
	}
}

// Submit filters and formats ev, then enqueues it.
func (c *Channel) Submit(ev notification.Event) error {
	c.mu.Lock()
	if !c.cfg.Enabled || c.sender == nil {
		c.mu.Unlock()
		return ErrDisabled
	}
	if !c.accepting || c.queue == nil {
		c.mu.Unlock()
		return ErrStopped
	}
	cfg := c.cfg
	dedup := c.dedup
	q := c.queue
	c.sendWG.Add(1)
	c.mu.Unlock()
	defer c.sendWG.Done()

	if ev.Kind.Verbosity() > cfg.Verbosity {
		return ErrFiltered
	}
	if len(cfg.Sessions) > 0 && !slices.Contains(cfg.Sessions, ev.SessionName) {
		return ErrFiltered
	}
	if dedup != nil {
		dedup.DeleteExpired()
		if err := dedup.Add(dedupKey(ev), struct{}{}, gocache.DefaultExpiration); err != nil {
			c.publish(eventbus.TopicDeliveryDropped, ev, "duplicate", nil)
			return ErrDuplicate
		}
	}

	msg, err := c.sender.Format(ev)
	if err != nil {
		return fmt.Errorf("format %s message: %w", c.name, err)
	}
	msg.EventID = ev.ID
	msg.Kind = ev.Kind

	select {
	case q <- job{msg: msg}:
		c.publish(eventbus.TopicDeliveryQueued, ev, "", nil)
		return nil
	default:
		c.publish(eventbus.TopicDeliveryDropped, ev, "queue_full", ErrQueueFull)
		return ErrQueueFull
	}
}

// Stop stops intake and drains queued messages until ctx is done, then
// cancels in-flight sends.
func (c *Channel) Stop(ctx context.Context) {
	c.mu.Lock()
	q := c.queue
	sup := c.sup
	if q == nil {
		c.mu.Unlock()
		return
	}
	if c.stopDone != nil {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	c.stopDone = done
	c.accepting = false
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		c.mu.Lock()
		c.queue = nil
		c.sup = nil
		c.stopDone = nil
		c.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

func (c *Channel) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			c.send(ctx, j.msg)
		}
	}
}

func (c *Channel) send(ctx context.Context, msg Message) {
	c.mu.Lock()
	lim := c.limiter
	timeout := c.cfg.SendTimeout
	c.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	err := c.sender.Send(callCtx, msg)
	cancel()

	ev := notification.Event{ID: msg.EventID, Kind: msg.Kind}
	if err != nil {
		c.log.Warn("notification delivery failed", logx.String("id", msg.EventID), logx.String("kind", msg.Kind.String()), logx.Err(err))
		c.publish(eventbus.TopicDeliveryFailed, ev, "", err)
		return
	}
	c.log.Debug("notification delivered", logx.String("id", msg.EventID))
	c.publish(eventbus.TopicDeliverySent, ev, "", nil)
}

func (c *Channel) publish(topic string, ev notification.Event, reason string, err error) {
	if c.bus == nil {
		return
	}
	d := eventbus.Delivery{Channel: c.name, EventID: ev.ID, Kind: ev.Kind.String(), Reason: reason}
	if err != nil {
		d.Err = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: d})
}

func dedupKey(ev notification.Event) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s", ev.Kind, ev.SessionID, ev.Message, ev.MatchedText)
	return fmt.Sprintf("%x", h.Sum64())
}
