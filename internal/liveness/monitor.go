package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/numrelay/numrelay/internal/transport"
)

// RestartFunc asks the process supervisor for a restart. The daemon wires
// this to an fx shutdown with a nonzero exit code so the external supervisor
// brings a fresh process up.
type RestartFunc func() error

// Pruner is the relay-side maintenance hook invoked each probe cycle.
type Pruner interface {
	PruneRecentSets()
}

// Purger removes confirmation filter entries older than the retention window.
type Purger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// MonitorConfig carries the monitor timers.
type MonitorConfig struct {
	ProbeInterval time.Duration
	StaleTimeout  time.Duration
	PurgeSchedule string
	Retention     time.Duration
}

// Monitor runs the periodic health loop: transport probe, registration drift
// check, recent-set pruning, a scheduled retention purge and the heartbeat
// watchdog that escalates to a supervised restart.
type Monitor struct {
	cfg      MonitorConfig
	client   transport.Client
	source   transport.Source
	pruner   Pruner
	purger   Purger
	status   *StatusStore
	notifier *Notifier
	restart  RestartFunc
	logger   *slog.Logger
	cron     *cron.Cron

	mu       sync.Mutex
	lastBeat time.Time
}

func NewMonitor(
	log *slog.Logger,
	cfg MonitorConfig,
	client transport.Client,
	source transport.Source,
	pruner Pruner,
	purger Purger,
	status *StatusStore,
	notifier *Notifier,
	restart RestartFunc,
) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Minute
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}
	return &Monitor{
		cfg:      cfg,
		client:   client,
		source:   source,
		pruner:   pruner,
		purger:   purger,
		status:   status,
		notifier: notifier,
		restart:  restart,
		logger:   log.With(slog.String("component", "liveness")),
		lastBeat: time.Now(),
	}
}

// Beat records a proof of life. The probe loop calls it on success; inbound
// event dispatch may call it too.
func (m *Monitor) Beat() {
	m.mu.Lock()
	m.lastBeat = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) sinceLastBeat() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastBeat)
}

// Start stamps the start in the ledger, sends the back-online notification
// when one is owed from a previous outage, and launches the probe loop and
// the purge schedule.
func (m *Monitor) Start(ctx context.Context) error {
	prev, err := m.status.RecordStart(ctx)
	if err != nil {
		return fmt.Errorf("record start: %w", err)
	}
	m.Beat()

	if prev.StopNotificationSent {
		downtime := unknownDowntime
		if prev.LastStoppedAt != nil {
			downtime = HumanizeDowntime(time.Since(*prev.LastStoppedAt))
		}
		cur := prev
		cur.StopNotificationSent = false
		m.notifier.NotifyBackOnline(ctx, cur, downtime)
	}

	if m.cfg.PurgeSchedule != "" && m.purger != nil {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(m.cfg.PurgeSchedule, m.runPurge); err != nil {
			return fmt.Errorf("purge schedule: %w", err)
		}
		m.cron.Start()
	}

	go m.loop(ctx)
	return nil
}

// Stop sends a best-effort stop notification under a bounded timeout, used
// on graceful shutdown. It is a no-op when the outage was already announced.
func (m *Monitor) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.announceStop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if err := m.client.Probe(ctx); err != nil {
		m.logger.Warn("transport probe failed", slog.Any("error", err))
	} else {
		m.Beat()
	}

	if m.source != nil {
		if err := m.source.CheckRegistration(ctx); err != nil {
			m.logger.Warn("registration check failed", slog.Any("error", err))
		}
	}

	if m.pruner != nil {
		m.pruner.PruneRecentSets()
	}

	if stale := m.sinceLastBeat(); stale > m.cfg.StaleTimeout {
		m.logger.Error("heartbeat stale, requesting restart",
			slog.Duration("stale_for", stale),
			slog.Duration("timeout", m.cfg.StaleTimeout),
		)
		m.announceStop(ctx)
		if m.restart != nil {
			if err := m.restart(); err != nil {
				m.logger.Error("restart request failed", slog.Any("error", err))
			}
		}
	}
}

// announceStop records the stop exactly once and fans out the notification
// only when this call owns it.
func (m *Monitor) announceStop(ctx context.Context) {
	status, owned, err := m.status.RecordStop(ctx)
	if err != nil {
		m.logger.Error("record stop failed", slog.Any("error", err))
		return
	}
	if !owned {
		return
	}
	m.notifier.NotifyStopped(ctx, status)
}

func (m *Monitor) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := m.purger.PurgeOlderThan(ctx, m.cfg.Retention)
	if err != nil {
		m.logger.Error("retention purge failed", slog.Any("error", err))
		return
	}
	m.logger.Info("retention purge done", slog.Int64("removed", removed))
}
