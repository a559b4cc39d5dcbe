// Package notification turns classified output into notification events,
// records them, and routes them to delivery hooks and outbound channels.
package notification

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of notification triggers.
type Kind int

const (
	KindInputNeeded Kind = iota + 1
	KindError
	KindCompleted
	KindSessionIdle
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindInputNeeded, KindError, KindCompleted, KindSessionIdle}

// String returns the snake_case name used in config keys and payloads.
func (k Kind) String() string {
	switch k {
	case KindInputNeeded:
		return "input_needed"
	case KindError:
		return "error"
	case KindCompleted:
		return "completed"
	case KindSessionIdle:
		return "session_idle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Label is the upper-case name shown in chat titles, e.g. "INPUT_NEEDED".
func (k Kind) Label() string { return strings.ToUpper(k.String()) }

// ParseKind accepts the snake_case or upper-case name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input_needed":
		return KindInputNeeded, nil
	case "error":
		return KindError, nil
	case "completed":
		return KindCompleted, nil
	case "session_idle":
		return KindSessionIdle, nil
	default:
		return 0, fmt.Errorf("unknown notification kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Priority is derived from Kind; higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "low":
		*p = PriorityLow
	case "medium":
		*p = PriorityMedium
	case "high":
		*p = PriorityHigh
	case "critical":
		*p = PriorityCritical
	default:
		return fmt.Errorf("unknown priority %q", b)
	}
	return nil
}

// Priority of the kind. Unknown kinds are low.
func (k Kind) Priority() Priority {
	switch k {
	case KindError:
		return PriorityCritical
	case KindInputNeeded:
		return PriorityHigh
	case KindCompleted:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Verbosity is the level an outbound channel's threshold is compared
// against: a channel with threshold V forwards kinds whose verbosity <= V.
func (k Kind) Verbosity() int {
	switch k {
	case KindError, KindInputNeeded:
		return 10
	case KindCompleted:
		return 50
	default:
		return 100
	}
}

// Event is a single notification. It is built by the Engine and never
// modified afterwards.
type Event struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	Message     string    `json:"message"`
	Priority    Priority  `json:"priority"`
	Timestamp   time.Time `json:"timestamp"`
	MatchedText string    `json:"matched_text,omitempty"`
}
