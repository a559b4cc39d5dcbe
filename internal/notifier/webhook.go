package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"tame/internal/config"
	"tame/internal/eventbus"
	"tame/internal/notification"
	logx "tame/pkg/logx"
)

const (
	webhookTimeout   = 10 * time.Second
	matchedExcerpt   = 200
	webhookFooter    = "TAME Notification"
	defaultColor     = "#439FE0"
	defaultEmoji     = ":bell:"
	webhookUserAgent = "tame-notifier/1"
)

var (
	kindColors = map[notification.Kind]string{
		notification.KindInputNeeded: "#f5a623",
		notification.KindError:       "#e74c3c",
		notification.KindCompleted:   "#2ecc71",
		notification.KindSessionIdle: "#95a5a6",
	}
	kindEmoji = map[notification.Kind]string{
		notification.KindInputNeeded: ":warning:",
		notification.KindError:       ":rotating_light:",
		notification.KindCompleted:   ":white_check_mark:",
		notification.KindSessionIdle: ":zzz:",
	}
)

// WebhookPayload is the Slack incoming-webhook body.
type WebhookPayload struct {
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Fallback string  `json:"fallback"`
	Color    string  `json:"color"`
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Fields   []Field `json:"fields"`
	Footer   string  `json:"footer"`
	TS       int64   `json:"ts"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// BuildWebhookPayload renders ev as a single Slack attachment.
func BuildWebhookPayload(ev notification.Event) WebhookPayload {
	color, ok := kindColors[ev.Kind]
	if !ok {
		color = defaultColor
	}
	emoji, ok := kindEmoji[ev.Kind]
	if !ok {
		emoji = defaultEmoji
	}

	fields := []Field{
		{Title: "Session", Value: ev.SessionName, Short: true},
		{Title: "Priority", Value: ev.Priority.String(), Short: true},
	}
	if ev.MatchedText != "" {
		fields = append(fields, Field{
			Title: "Matched",
			Value: "```" + truncateRunes(ev.MatchedText, matchedExcerpt) + "```",
		})
	}

	return WebhookPayload{Attachments: []Attachment{{
		Fallback: "TAME: " + ev.Message,
		Color:    color,
		Title:    fmt.Sprintf("%s TAME [%s]", emoji, ev.Kind),
		Text:     ev.Message,
		Fields:   fields,
		Footer:   webhookFooter,
		TS:       ev.Timestamp.Unix(),
	}}}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.Code)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

type webhookSender struct {
	url    string
	client *http.Client
}

func (w *webhookSender) Format(ev notification.Event) (Message, error) {
	body, err := json.Marshal(BuildWebhookPayload(ev))
	if err != nil {
		return Message{}, err
	}
	return Message{Title: ev.Kind.Label(), Text: ev.Message, Body: body}, nil
}

func (w *webhookSender) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}

// NewWebhook builds the chat webhook channel. It is disabled unless enabled
// is set and the URL is non-empty. A nil client gets a 10s timeout client.
func NewWebhook(s config.WebhookSettings, client *http.Client, log logx.Logger, bus eventbus.Bus) *Channel {
	url := strings.TrimSpace(s.WebhookURL)
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	var sender Sender
	if url != "" {
		sender = &webhookSender{url: url, client: client}
	}
	return NewChannel("webhook", Config{
		Enabled:     s.Enabled && url != "",
		Verbosity:   s.Verbosity,
		Sessions:    s.Sessions,
		DedupWindow: time.Duration(s.DedupSeconds) * time.Second,
		SendTimeout: webhookTimeout,
	}, sender, log, bus)
}
