package config

import (
	"reflect"
	"strings"

	logx "tame/pkg/logx"
)

// SummarizeChange lists the sections that differ between two settings and
// returns log fields describing the new values. Secrets (webhook URLs,
// tokens, service URLs) are reported only as "set" flags.
func SummarizeChange(oldS, newS Settings) ([]string, []logx.Field) {
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldS.General.LogLevel != newS.General.LogLevel ||
		oldS.General.LogFile != newS.General.LogFile ||
		oldS.General.LogJournal != newS.General.LogJournal {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("general.log_level", newS.General.LogLevel),
			logx.Bool("general.log_file_set", strings.TrimSpace(newS.General.LogFile) != ""),
			logx.Bool("general.log_journal", newS.General.LogJournal),
		)
	}

	if oldS.Sessions != newS.Sessions {
		changed = append(changed, "sessions")
		attrs = append(attrs,
			logx.Float64("sessions.idle_threshold_seconds", newS.Sessions.IdleThresholdSeconds),
			logx.Int("sessions.state_debounce_ms", newS.Sessions.StateDebounceMS),
			logx.String("sessions.idle_check", newS.Sessions.IdleCheck),
		)
	}

	on, nn := oldS.Notifications, newS.Notifications
	if on.Enabled != nn.Enabled || on.DoNotDisturb != nn.DoNotDisturb ||
		on.DNDStart != nn.DNDStart || on.DNDEnd != nn.DNDEnd || on.HistoryMax != nn.HistoryMax {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("notifications.enabled", nn.Enabled),
			logx.Bool("notifications.do_not_disturb", nn.DoNotDisturb),
			logx.String("notifications.dnd_window", nn.DNDStart+"-"+nn.DNDEnd),
		)
	}

	if !reflect.DeepEqual(on.Routing, nn.Routing) ||
		on.Desktop != nn.Desktop || on.Toast != nn.Toast ||
		!reflect.DeepEqual(on.Audio, nn.Audio) {
		changed = append(changed, "routing")
	}

	if !reflect.DeepEqual(on.Slack, nn.Slack) {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.Bool("slack.enabled", nn.Slack.Enabled),
			logx.Bool("slack.webhook_set", strings.TrimSpace(nn.Slack.WebhookURL) != ""),
			logx.Int("slack.verbosity", nn.Slack.Verbosity),
			logx.Int("slack.session_filter", len(nn.Slack.Sessions)),
		)
	}
	if !reflect.DeepEqual(on.Telegram, nn.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nn.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
		)
	}
	if !reflect.DeepEqual(on.Shoutrrr, nn.Shoutrrr) {
		changed = append(changed, "shoutrrr")
		attrs = append(attrs,
			logx.Bool("shoutrrr.enabled", nn.Shoutrrr.Enabled),
			logx.Int("shoutrrr.url_count", len(nn.Shoutrrr.URLs)),
		)
	}
	if on.Journal != nn.Journal {
		changed = append(changed, "journal")
		attrs = append(attrs, logx.String("journal.driver", nn.Journal.Driver))
	}
	if oldS.General.MetricsAddr != newS.General.MetricsAddr {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.String("general.metrics_addr", newS.General.MetricsAddr))
	}

	return changed, attrs
}
