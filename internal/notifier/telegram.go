package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"tame/internal/config"
	"tame/internal/eventbus"
	"tame/internal/notification"
	logx "tame/pkg/logx"
)

// Keeps the rendered text under Telegram's 4096 character limit.
const telegramMessageRunes = 3500

var kindIcons = map[notification.Kind]string{
	notification.KindInputNeeded: "⚠️",
	notification.KindError:       "🚨",
	notification.KindCompleted:   "✅",
	notification.KindSessionIdle: "💤",
}

type telegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func (t *telegramSender) Format(ev notification.Event) (Message, error) {
	return Message{Title: ev.Kind.Label(), Text: TelegramText(ev)}, nil
}

func (t *telegramSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, msg.Text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// TelegramText renders ev as Telegram HTML.
func TelegramText(ev notification.Event) string {
	icon, ok := kindIcons[ev.Kind]
	if !ok {
		icon = "🔔"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>TAME [%s]</b>\n", icon, ev.Kind)
	fmt.Fprintf(&b, "<b>Session:</b> %s\n", html.EscapeString(ev.SessionName))
	fmt.Fprintf(&b, "<b>Priority:</b> %s\n", ev.Priority)
	b.WriteString(html.EscapeString(truncateRunes(ev.Message, telegramMessageRunes)))
	if ev.MatchedText != "" {
		fmt.Fprintf(&b, "\n<pre>%s</pre>", html.EscapeString(truncateRunes(ev.MatchedText, matchedExcerpt)))
	}
	return b.String()
}

// TelegramOptions overrides the bot API endpoint and HTTP client (tests).
type TelegramOptions struct {
	APIURL string
	Client *http.Client
}

// NewTelegram builds the Telegram channel. A disabled section yields a
// disabled channel; an enabled section without token or chat is an error.
func NewTelegram(s config.TelegramSettings, opt TelegramOptions, log logx.Logger, bus eventbus.Bus) (*Channel, error) {
	cfg := Config{
		Enabled:     s.Enabled,
		Verbosity:   s.Verbosity,
		Sessions:    s.Sessions,
		SendTimeout: webhookTimeout,
	}
	if !s.Enabled {
		return NewChannel("telegram", cfg, nil, log, bus), nil
	}
	token := strings.TrimSpace(s.Token)
	if token == "" || s.ChatID == 0 {
		return nil, errors.New("telegram: token and chat_id are required")
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     opt.APIURL,
		Token:   token,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	sender := &telegramSender{bot: bot, chat: &tele.Chat{ID: s.ChatID}, threadID: s.ThreadID}
	return NewChannel("telegram", cfg, sender, log, bus), nil
}
