package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tame/internal/eventbus"
	"tame/internal/notification"
	rtsup "tame/internal/runtime/supervisor"
	logx "tame/pkg/logx"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics(nil)

	m.Observe(eventbus.Event{Type: eventbus.TopicLineScanned, Data: eventbus.Scanned{SessionID: "s1", Category: "error"}})
	m.Observe(eventbus.Event{Type: eventbus.TopicLineScanned, Data: eventbus.Scanned{SessionID: "s1"}})
	m.Observe(eventbus.Event{Type: eventbus.TopicNotificationRecorded, Data: notification.Event{Kind: notification.KindError}})
	m.Observe(eventbus.Event{Type: eventbus.TopicNotificationSuppressed, Data: eventbus.Suppressed{Reason: notification.ReasonDoNotDisturb}})
	m.Observe(eventbus.Event{Type: eventbus.TopicDeliverySent, Data: eventbus.Delivery{Channel: "slack"}})
	m.Observe(eventbus.Event{Type: eventbus.TopicDeliveryFailed, Data: eventbus.Delivery{Channel: "slack"}})
	m.Observe(eventbus.Event{Type: eventbus.TopicDeliveryFailed, Data: eventbus.Delivery{Channel: "slack"}})
	m.Observe(eventbus.Event{Type: "unrelated", Data: 42})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.linesScanned.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linesScanned.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.suppressed.WithLabelValues("do_not_disturb")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("slack", "sent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("slack", "failed")))
}

func TestMetricsRunConsumesBus(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := eventbus.New()
	m := NewMetrics(bus.Dropped)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus, logx.Nop()) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TopicNotificationRecorded, Data: notification.Event{Kind: notification.KindCompleted}})
		return testutil.ToFloat64(m.notifications.WithLabelValues("completed")) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics(func() uint64 { return 7 })
	m.Observe(eventbus.Event{Type: eventbus.TopicDeliveryDropped, Data: eventbus.Delivery{Channel: "telegram"}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tame_deliveries_total{channel="telegram",result="dropped"} 1`)
	assert.Contains(t, body, "tame_bus_dropped_events 7")
}

func TestMetricsExportSupervisorStats(t *testing.T) {
	m := NewMetrics(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(m.goroutines), "nothing exported before a supervisor is attached")

	sup := rtsup.New(context.Background())
	started := make(chan struct{})
	sup.Go("idle.sweep", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started
	m.WatchSupervisor(sup)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `tame_supervisor_active_goroutines{name="idle.sweep"} 1`)
	assert.Contains(t, body, "tame_supervisor_started_total 1")
	assert.Contains(t, body, `tame_supervisor_restarts_total{name="idle.sweep"} 0`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

func TestRoutesAuth(t *testing.T) {
	s := NewServer(ServerConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	}), logx.Nop())
	h := s.routes("secret")

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/metrics", "", http.StatusUnauthorized},
		{"query token", "/metrics?token=secret", "", http.StatusOK},
		{"wrong query token", "/metrics?token=nope", "", http.StatusUnauthorized},
		{"bearer", "/healthz", "Bearer secret", http.StatusOK},
		{"wrong bearer", "/healthz", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
	assert.False(t, isLoopbackAddr("garbage"))
}

func TestServerServesMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewMetrics(nil)
	m.Observe(eventbus.Event{Type: eventbus.TopicLineScanned, Data: eventbus.Scanned{Category: "prompt"}})

	s := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, m.Handler(), logx.Nop())
	s.Start(context.Background())

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `tame_lines_scanned_total{category="prompt"} 1`))

	http.DefaultClient.CloseIdleConnections()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
}

func TestServerRefusesPublicBindWithoutToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewServer(ServerConfig{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	require.NotNil(t, sup)
	// The serve loop gives up instead of retrying a refused bind.
	require.NoError(t, sup.Wait(ctx))
	assert.Empty(t, s.Addr())
	s.Stop(ctx)
}

func TestServerDisabledWithoutAddr(t *testing.T) {
	s := NewServer(ServerConfig{}, nil, logx.Nop())
	s.Start(context.Background())
	assert.Nil(t, s.sup)
	s.Reconfigure(context.Background(), ServerConfig{})
	assert.Nil(t, s.sup)
}
