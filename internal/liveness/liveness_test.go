package liveness

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	migrations "github.com/numrelay/numrelay/db"
	"github.com/numrelay/numrelay/internal/db"
	"github.com/numrelay/numrelay/internal/transport"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	fsys, err := migrations.Migrations()
	require.NoError(t, err)
	require.NoError(t, db.Migrate(slog.Default(), conn, fsys))
	return conn
}

func TestHumanizeDowntime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5 ثانية"},
		{59 * time.Second, "59 ثانية"},
		{90 * time.Second, "1 دقيقة"},
		{45 * time.Minute, "45 دقيقة"},
		{2*time.Hour + 30*time.Minute, "2 ساعة"},
		{-time.Second, "غير معروف"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, HumanizeDowntime(tc.d))
	}
}

func TestStatusLedger(t *testing.T) {
	store := NewStatusStore(slog.Default(), newTestDB(t))
	ctx := context.Background()

	st, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, st.LastStartedAt)
	require.Zero(t, st.StopCount)
	require.False(t, st.StopNotificationSent)

	// First stop owns the notification, repeats do not.
	st, owned, err := store.RecordStop(ctx)
	require.NoError(t, err)
	require.True(t, owned)
	require.EqualValues(t, 1, st.StopCount)
	require.NotNil(t, st.LastStoppedAt)

	_, owned, err = store.RecordStop(ctx)
	require.NoError(t, err)
	require.False(t, owned)

	st, err = store.Load(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.StopCount, "repeat stop does not inflate the counter")

	// A start clears the flag, returning the pre-start ledger.
	prev, err := store.RecordStart(ctx)
	require.NoError(t, err)
	require.True(t, prev.StopNotificationSent)
	require.NotNil(t, prev.LastStoppedAt)

	st, err = store.Load(ctx)
	require.NoError(t, err)
	require.False(t, st.StopNotificationSent)
	require.NotNil(t, st.LastStartedAt)

	// The next outage owns a notification again.
	_, owned, err = store.RecordStop(ctx)
	require.NoError(t, err)
	require.True(t, owned)
	st, err = store.Load(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.StopCount)
}

type captureSink struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fail  map[int64]error
	count int64
}

func newCaptureSink() *captureSink {
	return &captureSink{sent: map[int64][]string{}, fail: map[int64]error{}}
}

func (c *captureSink) send(_ context.Context, chatID int64, text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[chatID]; err != nil {
		return 0, err
	}
	c.sent[chatID] = append(c.sent[chatID], text)
	return len(c.sent[chatID]), nil
}

func (c *captureSink) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msgs := range c.sent {
		n += len(msgs)
	}
	return n
}

type staticTargets []int64

func (s staticTargets) Targets() []int64 { return s }

func (c *captureSink) Count(context.Context) (int64, error) { return c.count, nil }

func TestNotifierFanOut(t *testing.T) {
	sink := newCaptureSink()
	sink.count = 7
	sink.fail[-201] = errors.New("forbidden")
	n := NewNotifier(slog.Default(), sink.send, staticTargets{-200, -201, -202}, sink)

	n.NotifyStopped(context.Background(), BotStatus{StopCount: 3})
	require.Len(t, sink.sent[-200], 1)
	require.Len(t, sink.sent[-202], 1, "one failing target does not block the rest")
	require.Contains(t, sink.sent[-200][0], "توقف البوت")
	require.Contains(t, sink.sent[-200][0], "عدد مرات التوقف: 3")

	n.NotifyBackOnline(context.Background(), BotStatus{StopCount: 3}, HumanizeDowntime(2*time.Minute))
	require.Len(t, sink.sent[-200], 2)
	last := sink.sent[-200][1]
	require.Contains(t, last, "تم إعادة تشغيل البوت")
	require.Contains(t, last, "2 دقيقة")
	require.Contains(t, last, "7 رقم مجرب")
}

// probeClient adapts a fakeProbe to the transport client interface; the
// monitor only uses Probe.
type probeClient struct {
	probe *fakeProbe
}

func (p probeClient) SendMessage(context.Context, int64, string, *transport.Controls) (int, error) {
	return 0, errors.New("not used")
}

func (p probeClient) EditMessageControls(context.Context, int64, int, transport.Controls) error {
	return errors.New("not used")
}

func (p probeClient) DeleteMessage(context.Context, int64, int) error { return errors.New("not used") }

func (p probeClient) AnswerButtonPress(context.Context, string, string, bool) error {
	return errors.New("not used")
}

func (p probeClient) ResolveChat(context.Context, string) (transport.ChatInfo, error) {
	return transport.ChatInfo{}, errors.New("not used")
}

func (p probeClient) GetMembership(context.Context, int64) (transport.Membership, error) {
	return transport.Membership{}, errors.New("not used")
}

func (p probeClient) Probe(ctx context.Context) error { return p.probe.Probe(ctx) }

type fakeProbe struct {
	mu  sync.Mutex
	err error
}

func (f *fakeProbe) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProbe) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func newMonitorFixture(t *testing.T, sink *captureSink, probe *fakeProbe, restart RestartFunc) *Monitor {
	t.Helper()
	store := NewStatusStore(slog.Default(), newTestDB(t))
	notifier := NewNotifier(slog.Default(), sink.send, staticTargets{-200}, sink)
	return NewMonitor(
		slog.Default(),
		MonitorConfig{ProbeInterval: time.Minute, StaleTimeout: 5 * time.Minute},
		probeClient{probe},
		nil,
		nil,
		nil,
		store,
		notifier,
		restart,
	)
}

func TestMonitorStaleHeartbeatRestartsOnce(t *testing.T) {
	sink := newCaptureSink()
	probe := &fakeProbe{}
	probe.setErr(errors.New("unreachable"))

	restarts := 0
	m := newMonitorFixture(t, sink, probe, func() error {
		restarts++
		return nil
	})

	ctx := context.Background()
	// Backdate the heartbeat past the stale timeout.
	m.mu.Lock()
	m.lastBeat = time.Now().Add(-10 * time.Minute)
	m.mu.Unlock()

	m.tick(ctx)
	require.Equal(t, 1, restarts)
	require.Equal(t, 1, sink.total(), "stop notification sent")
	require.Contains(t, sink.sent[-200][0], "توقف البوت")

	// A second stale tick escalates again but does not re-notify.
	m.tick(ctx)
	require.Equal(t, 2, restarts)
	require.Equal(t, 1, sink.total())
}

func TestMonitorHealthyProbeBeats(t *testing.T) {
	sink := newCaptureSink()
	probe := &fakeProbe{}
	restarts := 0
	m := newMonitorFixture(t, sink, probe, func() error {
		restarts++
		return nil
	})

	m.mu.Lock()
	m.lastBeat = time.Now().Add(-10 * time.Minute)
	m.mu.Unlock()

	// Probe succeeds, so the stale heartbeat is refreshed before the check.
	m.tick(context.Background())
	require.Zero(t, restarts)
	require.Zero(t, sink.total())
	require.Less(t, m.sinceLastBeat(), time.Minute)
}

func TestMonitorBackOnlineOwedOnStart(t *testing.T) {
	conn := newTestDB(t)
	store := NewStatusStore(slog.Default(), conn)
	ctx := context.Background()

	// Simulate the previous process announcing its outage.
	_, owned, err := store.RecordStop(ctx)
	require.NoError(t, err)
	require.True(t, owned)

	sink := newCaptureSink()
	notifier := NewNotifier(slog.Default(), sink.send, staticTargets{-200}, sink)
	m := NewMonitor(
		slog.Default(),
		MonitorConfig{ProbeInterval: time.Hour, StaleTimeout: time.Hour},
		probeClient{&fakeProbe{}},
		nil, nil, nil,
		store,
		notifier,
		nil,
	)
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, m.Start(startCtx))

	require.Equal(t, 1, sink.total())
	msg := sink.sent[-200][0]
	require.Contains(t, msg, "تم إعادة تشغيل البوت")
	require.True(t, strings.Contains(msg, "ثانية") || strings.Contains(msg, "دقيقة"))

	// A second clean start owes nothing.
	require.NoError(t, m.Start(startCtx))
	require.Equal(t, 1, sink.total())
}
