package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBindingNotFound is returned for unknown binding handles.
var ErrBindingNotFound = errors.New("relay: binding not found")

// Store persists binding configurations and their activity records.
type Store struct {
	conn *sql.DB
}

// NewStore creates the binding store over an open database.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// InsertBinding persists a new binding.
func (s *Store) InsertBinding(ctx context.Context, b ChannelBinding) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO bindings (id, source_id, target_id, owner, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SourceID, b.TargetID, b.Owner, b.State, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

// UpdateBinding rewrites the channel pair of an existing binding.
func (s *Store) UpdateBinding(ctx context.Context, id string, sourceID, targetID int64) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE bindings SET source_id = ?, target_id = ?, updated_at = ? WHERE id = ?`,
		sourceID, targetID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// DeleteBinding removes a binding configuration.
func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// GetBinding loads one binding by ID.
func (s *Store) GetBinding(ctx context.Context, id string) (ChannelBinding, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, source_id, target_id, owner, status, created_at, updated_at FROM bindings WHERE id = ?`, id)
	return scanBinding(row)
}

// ListBindings returns all stored bindings, oldest first.
func (s *Store) ListBindings(ctx context.Context) ([]ChannelBinding, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, source_id, target_id, owner, status, created_at, updated_at FROM bindings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []ChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// AppendActivity adds one audit line to a binding's activity record.
func (s *Store) AppendActivity(ctx context.Context, bindingID string, kind ActivityKind, variant string, messageID int, snapshot string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO binding_activity (binding_id, kind, variant, message_id, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bindingID, kind, variant, messageID, snapshot, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ActivityStats returns the forwarded-event count and the latest activity time.
func (s *Store) ActivityStats(ctx context.Context, bindingID string) (int64, *time.Time, error) {
	var total int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM binding_activity WHERE binding_id = ?`, bindingID,
	).Scan(&total)
	if err != nil {
		return 0, nil, fmt.Errorf("activity stats: %w", err)
	}
	if total == 0 {
		return 0, nil, nil
	}

	var last time.Time
	err = s.conn.QueryRowContext(ctx,
		`SELECT created_at FROM binding_activity WHERE binding_id = ? ORDER BY created_at DESC LIMIT 1`,
		bindingID,
	).Scan(&last)
	if err != nil {
		return 0, nil, fmt.Errorf("activity stats: %w", err)
	}
	return total, &last, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (ChannelBinding, error) {
	var b ChannelBinding
	err := row.Scan(&b.ID, &b.SourceID, &b.TargetID, &b.Owner, &b.State, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelBinding{}, ErrBindingNotFound
	}
	if err != nil {
		return ChannelBinding{}, fmt.Errorf("scan binding: %w", err)
	}
	return b, nil
}
