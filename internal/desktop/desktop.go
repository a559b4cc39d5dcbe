// Package desktop delivers notifications to the local machine: a desktop
// popup, an audible alert, and a log-line toast for headless runs.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"

	"tame/internal/config"
	"tame/internal/notification"
	logx "tame/pkg/logx"
)

const maxBodyRunes = 800

// Desktop shows a popup through the platform notification service.
// Critical urgency uses beeep.Alert, which also plays the system sound.
type Desktop struct {
	mu  sync.RWMutex
	cfg config.DesktopSettings

	notify func(title, message string, icon any) error
	alert  func(title, message string, icon any) error
}

func NewDesktop(cfg config.DesktopSettings) *Desktop {
	return &Desktop{cfg: cfg, notify: beeep.Notify, alert: beeep.Alert}
}

func (d *Desktop) Apply(cfg config.DesktopSettings) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Desktop) Notify(ctx context.Context, ev notification.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	var icon any
	if cfg.IconPath != "" {
		icon = cfg.IconPath
	}
	title, body := Title(ev), Body(ev)
	if strings.EqualFold(cfg.Urgency, "critical") || ev.Priority == notification.PriorityCritical {
		return d.alert(title, body, icon)
	}
	return d.notify(title, body, icon)
}

// Title is "TAME: <KIND> (<session>)", the session part omitted when unnamed.
func Title(ev notification.Event) string {
	name := ev.SessionName
	if name == "" {
		name = ev.SessionID
	}
	if name == "" {
		return "TAME: " + ev.Kind.Label()
	}
	return fmt.Sprintf("TAME: %s (%s)", ev.Kind.Label(), name)
}

func Body(ev notification.Event) string {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		msg = ev.Kind.String()
	}
	r := []rune(msg)
	if len(r) > maxBodyRunes {
		msg = string(r[:maxBodyRunes]) + "..."
	}
	return msg
}

// Audio plays an alert through the first backend in the preference list
// that succeeds. Known backends: "beeep" (platform beep) and "bell"
// (ASCII BEL on the terminal writer). A volume of 0 mutes.
type Audio struct {
	mu       sync.RWMutex
	cfg      config.AudioSettings
	backends []string

	beep func(freq float64, duration int) error
	bell io.Writer
}

var errNoBackend = errors.New("no audio backend succeeded")

// NewAudio builds the hook. An empty preference list means beeep then bell.
func NewAudio(cfg config.AudioSettings, preference []string, bell io.Writer) *Audio {
	a := &Audio{beep: beeep.Beep, bell: bell}
	a.Apply(cfg, preference)
	return a
}

func (a *Audio) Apply(cfg config.AudioSettings, preference []string) {
	if len(preference) == 0 {
		preference = []string{"beeep", "bell"}
	}
	a.mu.Lock()
	a.cfg = cfg
	a.backends = append([]string(nil), preference...)
	a.mu.Unlock()
}

func (a *Audio) Notify(ctx context.Context, ev notification.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	cfg := a.cfg
	backends := a.backends
	a.mu.RUnlock()

	if cfg.Volume <= 0 {
		return nil
	}
	var errs []error
	for _, b := range backends {
		var err error
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "beeep":
			err = a.beep(beeep.DefaultFreq, durationFor(ev.Kind))
		case "bell":
			if a.bell == nil {
				err = errors.New("bell: no terminal")
			} else {
				_, err = io.WriteString(a.bell, "\a")
			}
		default:
			err = fmt.Errorf("%s: unknown audio backend", b)
		}
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(append([]error{errNoBackend}, errs...)...)
}

// durationFor lengthens the beep for urgent kinds.
func durationFor(k notification.Kind) int {
	switch k.Priority() {
	case notification.PriorityCritical, notification.PriorityHigh:
		return beeep.DefaultDuration * 2
	default:
		return beeep.DefaultDuration
	}
}

// Toast writes one info line per event. It stands in for the on-screen
// toast when tame runs without a UI.
type Toast struct {
	log logx.Logger
}

func NewToast(log logx.Logger) *Toast { return &Toast{log: log} }

func (t *Toast) Notify(_ context.Context, ev notification.Event) error {
	t.log.Info(Title(ev),
		logx.String("priority", ev.Priority.String()),
		logx.String("session", ev.SessionID),
		logx.String("message", Body(ev)),
	)
	return nil
}
