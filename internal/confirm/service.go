// Package confirm tracks each forwarded message's button state and performs
// the one-way unconfirmed -> confirmed transition, writing through to the
// dedup filter store.
package confirm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/transport"
)

// Service owns the pending-confirmation table. All button presses for the
// same token are serialized; presses for different tokens run concurrently.
type Service struct {
	conn   *sql.DB
	dedup  *dedup.Store
	client transport.Client
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the confirmation service.
func NewService(log *slog.Logger, conn *sql.DB, dedupStore *dedup.Store, client transport.Client) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conn:   conn,
		dedup:  dedupStore,
		client: client,
		logger: log.With(slog.String("component", "confirm")),
		locks:  map[string]*sync.Mutex{},
	}
}

// MintToken returns a fresh confirmation token. Telegram caps callback data
// at 64 bytes; a UUID fits comfortably.
func MintToken() string {
	return uuid.NewString()
}

// Register persists a new pending confirmation at forward time.
func (s *Service) Register(ctx context.Context, p Pending) error {
	if p.Token == "" {
		return errors.New("confirm: token is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO pending_confirmations
		 (token, binding_id, source_id, target_id, source_message_id, target_message_id, identity, full_text, is_edit, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Token, p.BindingID, p.SourceID, p.TargetID, p.SourceMessageID, p.TargetMessageID,
		p.Identity, p.FullText, p.IsEdit, StatusUnconfirmed, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("confirm register: %w", err)
	}
	return nil
}

// Get loads a pending confirmation by token.
func (s *Service) Get(ctx context.Context, token string) (Pending, error) {
	var p Pending
	var confirmedBy sql.NullString
	var confirmedAt sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT token, binding_id, source_id, target_id, source_message_id, target_message_id,
		        identity, full_text, is_edit, status, created_at, confirmed_by, confirmed_at
		 FROM pending_confirmations WHERE token = ?`, token,
	).Scan(&p.Token, &p.BindingID, &p.SourceID, &p.TargetID, &p.SourceMessageID, &p.TargetMessageID,
		&p.Identity, &p.FullText, &p.IsEdit, &p.Status, &p.CreatedAt, &confirmedBy, &confirmedAt)
	if err != nil {
		return Pending{}, err
	}
	if confirmedBy.Valid {
		p.ConfirmedBy = confirmedBy.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		p.ConfirmedAt = &t
	}
	return p, nil
}

// OnButtonPress applies a press to the confirmation state machine.
// Unknown token: no state change. Already confirmed: no state change, no
// re-notification. Otherwise the dedup write, the status flip, and the
// control update happen as one logical transaction per token: a concurrent
// second press observes either the pre- or the fully-post-transition state.
func (s *Service) OnButtonPress(ctx context.Context, press transport.ButtonPress) (Outcome, error) {
	lock := s.tokenLock(press.Token)
	lock.Lock()
	defer lock.Unlock()

	pending, err := s.Get(ctx, press.Token)
	if errors.Is(err, sql.ErrNoRows) {
		s.answer(ctx, press.CallbackID, ackNotFound, true)
		return OutcomeNotFound, nil
	}
	if err != nil {
		s.answer(ctx, press.CallbackID, ackFailed, true)
		return "", fmt.Errorf("confirm load: %w", err)
	}

	if pending.Status == StatusConfirmed {
		s.answer(ctx, press.CallbackID, ackAlready, false)
		return OutcomeAlreadyConfirmed, nil
	}

	principal := press.Principal.DisplayName()
	if principal == "" {
		principal = fmt.Sprintf("%d", press.Principal.ID)
	}

	// The dedup record is the business invariant; if it cannot be persisted
	// the confirmation must not be reported as successful.
	if _, err := s.dedup.MarkConfirmed(ctx, pending.SourceID, pending.SourceMessageID, pending.Identity, pending.FullText, principal); err != nil {
		s.answer(ctx, press.CallbackID, ackFailed, true)
		return "", fmt.Errorf("confirm dedup write: %w", err)
	}

	now := time.Now().UTC()
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE pending_confirmations SET status = ?, confirmed_by = ?, confirmed_at = ? WHERE token = ? AND status = ?`,
		StatusConfirmed, principal, now, press.Token, StatusUnconfirmed,
	); err != nil {
		s.answer(ctx, press.CallbackID, ackFailed, true)
		return "", fmt.Errorf("confirm flip: %w", err)
	}

	if err := s.client.EditMessageControls(ctx, pending.TargetID, pending.TargetMessageID, transport.Controls{
		Label: ConfirmedLabel,
		Token: press.Token,
	}); err != nil {
		// The state is committed; a stale button is cosmetic and the next
		// press still reports "already confirmed".
		s.logger.Error("update control failed",
			slog.String("token", press.Token),
			slog.Any("error", err),
		)
	}

	s.answer(ctx, press.CallbackID, ackConfirmed, false)
	s.logger.Info("confirmation recorded",
		slog.String("token", press.Token),
		slog.String("binding_id", pending.BindingID),
		slog.String("confirmed_by", principal),
	)

	s.dropLock(press.Token)
	return OutcomeConfirmed, nil
}

// StatsByBinding returns confirmed and unconfirmed counts for a binding.
func (s *Service) StatsByBinding(ctx context.Context, bindingID string) (confirmed, unconfirmed int64, err error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_confirmations WHERE binding_id = ? GROUP BY status`, bindingID)
	if err != nil {
		return 0, 0, fmt.Errorf("confirm stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, err
		}
		switch status {
		case StatusConfirmed:
			confirmed = n
		case StatusUnconfirmed:
			unconfirmed = n
		}
	}
	return confirmed, unconfirmed, rows.Err()
}

func (s *Service) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := s.client.AnswerButtonPress(ctx, callbackID, text, alert); err != nil {
		s.logger.Warn("answer press failed", slog.Any("error", err))
	}
}

func (s *Service) tokenLock(token string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[token]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[token] = lock
	}
	return lock
}

// dropLock releases the per-token mutex entry after the terminal transition;
// later presses take the already-confirmed fast path.
func (s *Service) dropLock(token string) {
	s.mu.Lock()
	delete(s.locks, token)
	s.mu.Unlock()
}
