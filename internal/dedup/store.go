// Package dedup is the persistent, content-addressed filter of confirmed
// items. Once an identity is confirmed for a source, no post carrying that
// identity is ever forwarded again, regardless of its message ID.
package dedup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyIdentity is returned when a confirmation carries no usable identity.
var ErrEmptyIdentity = errors.New("dedup: empty identity")

// Record is one confirmed item, keyed by (hash, source).
type Record struct {
	Hash        string    `json:"hash"`
	SourceID    int64     `json:"source_id"`
	Identity    string    `json:"identity"`
	FullText    string    `json:"full_text"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	ConfirmedBy string    `json:"confirmed_by"`
	MessageIDs  []int     `json:"message_ids"`
}

// Store persists confirmed identities in sqlite. Safe for concurrent use;
// every mutation is durable before the call returns.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

// NewStore creates a dedup store over an open database.
func NewStore(log *slog.Logger, conn *sql.DB) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		conn:   conn,
		logger: log.With(slog.String("component", "dedup")),
	}
}

// HashIdentity returns the stable content hash used as the dedup key.
func HashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// IsConfirmed reports whether a record exists for (hash(identity), sourceID).
// An empty identity never matches anything.
func (s *Store) IsConfirmed(ctx context.Context, sourceID int64, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_records WHERE hash = ? AND source_id = ?`,
		HashIdentity(identity), sourceID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// MarkConfirmed records identity as confirmed for sourceID and returns the
// hash for audit logging. Idempotent: if the hash already exists for that
// source, the message ID is appended and confirmed_at refreshed.
func (s *Store) MarkConfirmed(ctx context.Context, sourceID int64, sourceMessageID int, identity, fullText, confirmedBy string) (string, error) {
	if identity == "" {
		return "", ErrEmptyIdentity
	}
	hash := HashIdentity(identity)
	now := time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("dedup begin: %w", err)
	}
	defer tx.Rollback()

	var rawIDs string
	err = tx.QueryRowContext(ctx,
		`SELECT message_ids FROM dedup_records WHERE hash = ? AND source_id = ?`,
		hash, sourceID,
	).Scan(&rawIDs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ids, _ := json.Marshal([]int{sourceMessageID})
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dedup_records (hash, source_id, identity, full_text, confirmed_at, confirmed_by, message_ids)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			hash, sourceID, identity, fullText, now, confirmedBy, string(ids),
		)
		if err != nil {
			return "", fmt.Errorf("dedup insert: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("dedup lookup: %w", err)
	default:
		var messageIDs []int
		if err := json.Unmarshal([]byte(rawIDs), &messageIDs); err != nil {
			messageIDs = nil
		}
		if !containsInt(messageIDs, sourceMessageID) {
			messageIDs = append(messageIDs, sourceMessageID)
		}
		ids, _ := json.Marshal(messageIDs)
		_, err = tx.ExecContext(ctx,
			`UPDATE dedup_records SET message_ids = ?, confirmed_at = ? WHERE hash = ? AND source_id = ?`,
			string(ids), now, hash, sourceID,
		)
		if err != nil {
			return "", fmt.Errorf("dedup update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("dedup commit: %w", err)
	}
	s.logger.Info("identity confirmed",
		slog.String("hash", hash),
		slog.Int64("source_id", sourceID),
		slog.String("confirmed_by", confirmedBy),
	)
	return hash, nil
}

// PurgeOlderThan deletes records whose confirmation exceeds the retention
// window and returns how many were removed. Deletion is atomic per record;
// concurrent lookups never observe a partial delete.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.conn.ExecContext(ctx, `DELETE FROM dedup_records WHERE confirmed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedup purge: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.logger.Info("purged stale dedup records", slog.Int64("removed", removed))
	}
	return removed, nil
}

// ListBySource returns the confirmed records for a source, most recent first.
func (s *Store) ListBySource(ctx context.Context, sourceID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT hash, source_id, identity, full_text, confirmed_at, confirmed_by, message_ids
		 FROM dedup_records WHERE source_id = ? ORDER BY confirmed_at DESC LIMIT ?`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dedup list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var rawIDs string
		if err := rows.Scan(&rec.Hash, &rec.SourceID, &rec.Identity, &rec.FullText, &rec.ConfirmedAt, &rec.ConfirmedBy, &rawIDs); err != nil {
			return nil, fmt.Errorf("dedup scan: %w", err)
		}
		_ = json.Unmarshal([]byte(rawIDs), &rec.MessageIDs)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the total number of confirmed records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("dedup count: %w", err)
	}
	return n, nil
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
