// Package liveness tracks the daemon's own health: a persistent start/stop
// ledger, operator notifications around outages and a monitor loop that
// probes the transport and requests a supervised restart when it wedges.
package liveness

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// BotStatus is the singleton start/stop ledger row.
type BotStatus struct {
	LastStartedAt        *time.Time
	LastStoppedAt        *time.Time
	StopCount            int64
	StopNotificationSent bool
}

// StatusStore persists the bot_status singleton.
type StatusStore struct {
	conn   *sql.DB
	logger *slog.Logger
}

func NewStatusStore(log *slog.Logger, conn *sql.DB) *StatusStore {
	if log == nil {
		log = slog.Default()
	}
	return &StatusStore{conn: conn, logger: log.With(slog.String("component", "liveness"))}
}

// Load returns the current ledger, creating the singleton row if missing.
func (s *StatusStore) Load(ctx context.Context) (BotStatus, error) {
	if _, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO bot_status (id) VALUES (1)`); err != nil {
		return BotStatus{}, fmt.Errorf("status init: %w", err)
	}
	var st BotStatus
	var started, stopped sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_started_at, last_stopped_at, stop_count, stop_notification_sent
		 FROM bot_status WHERE id = 1`,
	).Scan(&started, &stopped, &st.StopCount, &st.StopNotificationSent)
	if err != nil {
		return BotStatus{}, fmt.Errorf("status load: %w", err)
	}
	if started.Valid {
		t := started.Time
		st.LastStartedAt = &t
	}
	if stopped.Valid {
		t := stopped.Time
		st.LastStoppedAt = &t
	}
	return st, nil
}

// RecordStart stamps a fresh start and clears the pending-notification flag.
// It returns the ledger as it was before the start, so callers can tell
// whether a back-online notification is owed and compute the downtime.
func (s *StatusStore) RecordStart(ctx context.Context) (BotStatus, error) {
	prev, err := s.Load(ctx)
	if err != nil {
		return BotStatus{}, err
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE bot_status SET last_started_at = ?, stop_notification_sent = 0 WHERE id = 1`,
		time.Now().UTC(),
	); err != nil {
		return BotStatus{}, fmt.Errorf("status start: %w", err)
	}
	return prev, nil
}

// RecordStop stamps a stop exactly once per outage. The boolean reports
// whether this call owns the stop notification; repeat calls before the next
// successful start return false.
func (s *StatusStore) RecordStop(ctx context.Context) (BotStatus, bool, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		return BotStatus{}, false, err
	}
	if cur.StopNotificationSent {
		return cur, false, nil
	}
	now := time.Now().UTC()
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE bot_status
		 SET last_stopped_at = ?, stop_count = stop_count + 1, stop_notification_sent = 1
		 WHERE id = 1 AND stop_notification_sent = 0`,
		now,
	); err != nil {
		return BotStatus{}, false, fmt.Errorf("status stop: %w", err)
	}
	cur.LastStoppedAt = &now
	cur.StopCount++
	cur.StopNotificationSent = true
	return cur, true, nil
}
