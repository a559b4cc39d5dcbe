package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tame/internal/notification"
	"tame/internal/storage"
	logx "tame/pkg/logx"
)

const hookURL = "https://hooks.example.test/services/T1"

func writeConfig(t *testing.T, path, journal string, enabled bool) {
	t.Helper()
	body := `[general]
log_file = ""
log_level = "ERROR"

[sessions]
idle_check = ""

[notifications]
enabled = ` + map[bool]string{true: "true", false: "false"}[enabled] + `

[notifications.desktop]
enabled = false

[notifications.audio]
enabled = false

[notifications.slack]
enabled = true
webhook_url = "` + hookURL + `"

[notifications.journal]
driver = "file"
path = "` + journal + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newTestApp(t *testing.T) (*App, *httpmock.MockTransport, string, string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))

	cfgPath := filepath.Join(dir, "tame.toml")
	journal := filepath.Join(dir, "history.jsonl")
	writeConfig(t, cfgPath, journal, true)

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusOK, "ok"))

	a, err := NewApp(Options{ConfigPath: cfgPath, HTTPClient: &http.Client{Transport: mt}, Bell: io.Discard})
	require.NoError(t, err)
	return a, mt, cfgPath, journal
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopUnknown))
}

func TestAppDeliversAndJournals(t *testing.T) {
	a, mt, _, journal := newTestApp(t)
	require.NoError(t, a.Start(context.Background()))

	ev, ok := a.Feed("s1", "build", "\x1b[1mError: disk full\x1b[0m")
	require.True(t, ok)
	assert.Equal(t, notification.KindError, ev.Kind)
	assert.Equal(t, notification.PriorityCritical, ev.Priority)

	_, ok = a.Feed("s1", "build", "compiling 40%")
	assert.False(t, ok)

	require.Eventually(t, func() bool { return mt.GetTotalCallCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Engine().History().Len())
	stopApp(t, a)

	st, err := storage.Open(storage.Config{Driver: "file", Path: journal}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	events, err := st.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
}

func TestAppPreloadsHistoryFromJournal(t *testing.T) {
	a, _, cfgPath, _ := newTestApp(t)
	require.NoError(t, a.Start(context.Background()))
	a.Feed("s1", "", "task completed")
	stopApp(t, a)

	b, err := NewApp(Options{ConfigPath: cfgPath, Bell: io.Discard})
	require.NoError(t, err)
	defer stopApp(t, b)
	all := b.Engine().History().All()
	require.Len(t, all, 1)
	assert.Equal(t, notification.KindCompleted, all[0].Kind)
}

func TestAppHotReload(t *testing.T) {
	a, mt, cfgPath, journal := newTestApp(t)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	writeConfig(t, cfgPath, journal, false)
	a.cfgs.Reload()
	require.Eventually(t, func() bool { return !a.Settings().Notifications.Enabled }, 2*time.Second, 10*time.Millisecond)

	_, ok := a.Feed("s1", "", "Continue? [y/n]")
	require.True(t, ok)
	// Recorded but not delivered.
	assert.Equal(t, 1, a.Engine().History().Len())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestFeedReader(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	in := strings.NewReader("starting\nfatal: cannot lock ref\n\ntask completed\n")
	require.NoError(t, a.FeedReader(context.Background(), "stdin", "pipe", in))

	got := a.Engine().History().All()
	require.Len(t, got, 2)
	assert.Equal(t, notification.KindError, got[0].Kind)
	assert.Equal(t, "pipe", got[0].SessionName)
	assert.Equal(t, notification.KindCompleted, got[1].Kind)
	assert.Zero(t, a.Monitor().Sessions())
}

func TestStopWithoutStart(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	stopApp(t, a)
}
