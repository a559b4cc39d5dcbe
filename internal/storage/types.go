package storage

import (
	"context"
	"errors"
	"time"

	"tame/internal/notification"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxEvents bounds what the journal retains. Older events are pruned
	// in batches. 0 means defaultMaxEvents.
	MaxEvents int
}

const defaultMaxEvents = 5000

func (c Config) maxEvents() int {
	if c.MaxEvents <= 0 {
		return defaultMaxEvents
	}
	return c.MaxEvents
}

// Store is the persistence API the notification engine writes to.
type Store interface {
	AppendEvent(ctx context.Context, ev notification.Event) error
	// RecentEvents returns up to n events, oldest first.
	RecentEvents(ctx context.Context, n int) ([]notification.Event, error)
	Close() error
}
