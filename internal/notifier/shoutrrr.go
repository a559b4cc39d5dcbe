package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"tame/internal/config"
	"tame/internal/eventbus"
	"tame/internal/notification"
	logx "tame/pkg/logx"
)

type shoutrrrSender struct {
	router *router.ServiceRouter
}

// PlainText renders ev for services without markup.
func PlainText(ev notification.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", ev.Priority, ev.SessionName, ev.Message)
	if ev.MatchedText != "" {
		fmt.Fprintf(&b, "\nmatched: %s", truncateRunes(ev.MatchedText, matchedExcerpt))
	}
	return b.String()
}

func (s *shoutrrrSender) Format(ev notification.Event) (Message, error) {
	return Message{Title: fmt.Sprintf("TAME [%s]", ev.Kind), Text: PlainText(ev)}, nil
}

func (s *shoutrrrSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := types.Params{"title": msg.Title}
	var errs []error
	for _, err := range s.router.Send(msg.Text, &params) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewShoutrrr builds a channel delivering to every configured service URL.
func NewShoutrrr(s config.ShoutrrrSettings, log logx.Logger, bus eventbus.Bus) (*Channel, error) {
	cfg := Config{
		Enabled:     s.Enabled && len(s.URLs) > 0,
		Verbosity:   s.Verbosity,
		Sessions:    s.Sessions,
		SendTimeout: webhookTimeout,
	}
	if !cfg.Enabled {
		return NewChannel("shoutrrr", cfg, nil, log, bus), nil
	}
	r, err := shoutrrr.CreateSender(s.URLs...)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr sender: %w", err)
	}
	return NewChannel("shoutrrr", cfg, &shoutrrrSender{router: r}, log, bus), nil
}
