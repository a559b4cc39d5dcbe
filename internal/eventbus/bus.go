package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Topics published inside tame.
const (
	TopicNotificationRecorded   = "notification.recorded"
	TopicNotificationSuppressed = "notification.suppressed"
	TopicLineScanned            = "line.scanned"

	TopicDeliveryQueued  = "delivery.queued"
	TopicDeliverySent    = "delivery.sent"
	TopicDeliveryFailed  = "delivery.failed"
	TopicDeliveryDropped = "delivery.dropped"

	TopicConfigReloaded = "config.reloaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks; slow subscribers lose events instead of stalling
// the monitoring path.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the payload of delivery.* events.
type Delivery struct {
	Channel string
	EventID string
	Kind    string
	Reason  string
	Err     string
}

// Suppressed is the payload of notification.suppressed events.
type Suppressed struct {
	EventID string
	Kind    string
	Reason  string
}

// Scanned is the payload of line.scanned events. Category is empty when
// the line matched nothing.
type Scanned struct {
	SessionID string
	Category  string
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel receiving events whose Type has
	// one of the given prefixes (all events when none are given).
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(topic string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.send(s.ch, e)
	}
}

// send tolerates a concurrent unsubscribe closing ch.
func (b *memBus) send(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
