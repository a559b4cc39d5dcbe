// Package notifier delivers notification events to external services.
//
// Every outbound service shares one async core, Channel: events are filtered
// (verbosity threshold, session allow-list, optional dedup window) and
// formatted synchronously in submission order, then handed to a bounded
// queue served by a small worker pool. Submission never blocks; a full queue
// drops the event with a warning.
//
// # Senders
//
// A Sender formats and transmits one message:
//
//   - NewWebhook posts Slack-style attachment JSON to an incoming webhook.
//   - NewTelegram sends HTML text to a chat (optionally a forum thread).
//   - NewShoutrrr fans out to any shoutrrr service URL.
//
// Delivery is best-effort and at most once: failures are logged and never
// retried.
package notifier
