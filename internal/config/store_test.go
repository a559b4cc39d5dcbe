package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tame/pkg/logx"
)

func newTestStore(t *testing.T, name, content string) (*Store, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	var buf bytes.Buffer
	return NewStore(path, logx.NewWriter(&buf, "debug")), &buf
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.toml")
	store := NewStore(path, logx.Nop())

	doc := store.Load()
	assert.Equal(t, Defaults(), doc)

	_, err := os.Stat(path)
	require.NoError(t, err, "defaults should be written to disk")

	// The written file parses back to the same effective values.
	again := NewStore(path, logx.Nop()).Load()
	assert.EqualValues(t, 500, Lookup(again, "notifications.history_max", nil))
	assert.Equal(t, 3.0, Lookup(again, "patterns.idle_prompt_timeout", nil))
	assert.Equal(t, []any{`\d+%`, `Step \d+/\d+`}, Lookup(again, "patterns.progress.regexes", nil))
}

func TestLoadMalformedFileReturnsExactDefaults(t *testing.T) {
	store, logs := newTestStore(t, "config.toml", "this is not [valid toml\n[[[\n")

	doc := store.Load()
	assert.Equal(t, Defaults(), doc)
	assert.Contains(t, logs.String(), "failed to parse config")
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	store, _ := newTestStore(t, "config.toml", `
[notifications]
do_not_disturb = true

[notifications.slack]
enabled = true
webhook_url = "https://hooks.example.com/T/B/X"
sessions = ["build-1"]

[custom]
answer = 42
`)
	doc := store.Load()

	assert.Equal(t, true, Lookup(doc, "notifications.do_not_disturb", nil))
	assert.Equal(t, true, Lookup(doc, "notifications.slack.enabled", nil))
	assert.EqualValues(t, 10, Lookup(doc, "notifications.slack.verbosity", nil), "untouched siblings keep defaults")
	assert.Equal(t, true, Lookup(doc, "notifications.enabled", nil))
	assert.EqualValues(t, 42, Lookup(doc, "custom.answer", nil))

	st := store.Settings()
	assert.Equal(t, []string{"build-1"}, st.Notifications.Slack.Sessions)
	assert.Equal(t, "https://hooks.example.com/T/B/X", st.Notifications.Slack.WebhookURL)
	assert.Equal(t, 500, st.Notifications.HistoryMax)
}

func TestSettingsMistypedFieldKeepsUnrelatedOverrides(t *testing.T) {
	store, logs := newTestStore(t, "config.toml", `
[general]
resource_poll_seconds = 2.5
log_level = 3

[notifications.slack]
enabled = true
webhook_url = "https://hooks.example.com/T/B/X"
sessions = "build-1"
`)
	store.Load()
	st := store.Settings()

	assert.True(t, st.Notifications.Slack.Enabled)
	assert.Equal(t, "https://hooks.example.com/T/B/X", st.Notifications.Slack.WebhookURL)
	assert.Equal(t, []string{"build-1"}, st.Notifications.Slack.Sessions)
	assert.Equal(t, 2, st.General.ResourcePollSeconds)
	assert.Equal(t, "INFO", st.General.LogLevel, "mistyped field keeps its default")
	assert.Contains(t, logs.String(), "general.log_level")
}

func TestLoadClampsNumericFloors(t *testing.T) {
	store, logs := newTestStore(t, "config.toml", `
[general]
resource_poll_seconds = -5

[sessions]
idle_threshold_seconds = -100

[notifications.audio]
volume = -0.5

[notifications.slack]
verbosity = 25
`)
	store.Load()

	assert.EqualValues(t, 0, store.Get("sessions.idle_threshold_seconds", nil))
	assert.EqualValues(t, 1, store.Get("general.resource_poll_seconds", nil))
	assert.EqualValues(t, 0, store.Get("notifications.audio.volume", nil))
	assert.EqualValues(t, 25, store.Get("notifications.slack.verbosity", nil), "in-range values are untouched")
	assert.Contains(t, logs.String(), "clamping")
}

func TestLoadDropsInvalidRegexes(t *testing.T) {
	store, logs := newTestStore(t, "config.toml", `
[patterns.error]
regexes = ["[invalid_regex", "valid_pattern"]

[patterns.prompt]
regexes = ["(unclosed", "[also bad"]
weak_regexes = ["\\?$", 7]
`)
	store.Load()

	assert.Equal(t, []any{"valid_pattern"}, store.Get("patterns.error.regexes", nil))
	assert.Equal(t, []any{}, store.Get("patterns.prompt.regexes", nil))
	assert.Equal(t, []any{`\?$`}, store.Get("patterns.prompt.weak_regexes", nil))
	assert.Contains(t, logs.String(), "[invalid_regex")
}

func TestLoadYAML(t *testing.T) {
	store, _ := newTestStore(t, "config.yaml", `
notifications:
  history_max: 3
  slack:
    enabled: true
sessions:
  idle_threshold_seconds: -1
`)
	store.Load()

	assert.EqualValues(t, 3, store.Get("notifications.history_max", nil))
	assert.Equal(t, true, store.Get("notifications.slack.enabled", nil))
	assert.EqualValues(t, 0, store.Get("sessions.idle_threshold_seconds", nil))
}

func TestGet(t *testing.T) {
	store, _ := newTestStore(t, "config.toml", "[general]\nlog_level = \"DEBUG\"\n")
	store.Load()

	tests := []struct {
		name string
		path string
		want any
	}{
		{"leaf", "general.log_level", "DEBUG"},
		{"missing leaf", "general.nope", "fallback"},
		{"missing section", "nope.nope", "fallback"},
		{"through scalar", "general.log_level.deeper", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.Get(tt.path, "fallback"))
		})
	}

	section, ok := store.Get("notifications.routing", nil).(map[string]any)
	require.True(t, ok)
	assert.Len(t, section, 4)
}

func TestGetLoadsLazily(t *testing.T) {
	store, _ := newTestStore(t, "config.toml", "[general]\nlog_level = \"WARN\"\n")
	assert.Equal(t, "WARN", store.Get("general.log_level", nil))
}

func TestSaveRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "config.toml", "")
	doc := Defaults()
	Lookup(doc, "notifications", nil).(map[string]any)["dnd_start"] = `22:00 "late"`
	require.NoError(t, store.Save(doc))

	reloaded := NewStore(store.Path(), logx.Nop()).Load()
	assert.Equal(t, `22:00 "late"`, Lookup(reloaded, "notifications.dnd_start", nil))
	assert.Equal(t, 0.7, Lookup(reloaded, "notifications.audio.volume", nil))
	assert.Equal(t, map[string]any{}, Lookup(reloaded, "theme.colors", nil))
}

func TestReloadKeepsCurrentOnParseFailure(t *testing.T) {
	store, logs := newTestStore(t, "config.toml", "[notifications]\nhistory_max = 10\n")
	store.Load()
	ch := store.Subscribe(1)
	defer store.Unsubscribe(ch)

	require.NoError(t, os.WriteFile(store.Path(), []byte("[[[ broken"), 0o644))
	assert.False(t, store.Reload())
	assert.EqualValues(t, 10, store.Get("notifications.history_max", nil))
	assert.Contains(t, logs.String(), "keeping current config")

	require.NoError(t, os.WriteFile(store.Path(), []byte("[notifications]\nhistory_max = 20\n"), 0o644))
	assert.True(t, store.Reload())
	got := <-ch
	assert.EqualValues(t, 20, Lookup(got, "notifications.history_max", nil))

	assert.False(t, store.Reload(), "unchanged content is not republished")
}

func TestDefaultPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "tame", "config.toml"), DefaultPath())
}
