package notifier

import (
	"context"
	"errors"
	"time"

	"tame/internal/notification"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrFiltered  = errors.New("notification filtered")
	ErrDuplicate = errors.New("notification suppressed as duplicate")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls one outbound channel.
type Config struct {
	Enabled bool
	// Verbosity forwards kinds whose verbosity is <= this threshold.
	Verbosity int
	// Sessions restricts delivery to these session names; empty allows all.
	Sessions    []string
	DedupWindow time.Duration

	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Message is a formatted notification ready for a Sender.
type Message struct {
	EventID string
	Kind    notification.Kind
	Title   string
	Text    string
	// Body is the raw request payload for senders that post JSON.
	Body []byte
}

// Sender formats and transmits messages for one external service.
type Sender interface {
	Format(ev notification.Event) (Message, error)
	Send(ctx context.Context, msg Message) error
}
