package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRotationConflict is returned when a CAS rotation loses to a concurrent
// writer. The losing caller must treat the session as revoked.
var ErrRotationConflict = errors.New("store: session rotation conflict")

// CreateSession persists a new device session and returns it.
func (db *DB) CreateSession(ctx context.Context, userID, refreshHash, device, ip string, expiresAt time.Time) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		RefreshHash: refreshHash,
		Device:      device,
		IP:          ip,
		Active:      true,
		Version:     1,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_hash, device, ip, active, version, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, 1, ?, ?)`,
		sess.ID, sess.UserID, sess.RefreshHash, sess.Device, sess.IP, sess.ExpiresAt, sess.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: inserting session: %w", err)
	}

	return sess, nil
}

// ActiveSessionsForUser returns the user's active, unexpired sessions. The
// refresh hashes are salt-randomized, so callers match the presented token by
// verifying against each candidate.
func (db *DB) ActiveSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, refresh_hash, device, ip, active, version, expires_at, created_at
		 FROM sessions WHERE user_id = ? AND active = 1 AND expires_at > ?`,
		userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.RefreshHash, &s.Device, &s.IP,
			&s.Active, &s.Version, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RotateSessionHash replaces the stored refresh hash if and only if the
// session still carries expectedVersion. The compare-and-swap makes two
// concurrent refresh calls against one session impossible to both win: the
// loser gets ErrRotationConflict and the session is deactivated, forcing both
// holders to re-authenticate rather than leaving two divergent "valid"
// refresh tokens alive.
func (db *DB) RotateSessionHash(ctx context.Context, sessionID string, expectedVersion int64, newHash string, expiresAt time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET refresh_hash = ?, version = version + 1, expires_at = ?
		 WHERE id = ? AND version = ? AND active = 1`,
		newHash, expiresAt, sessionID, expectedVersion)
	if err != nil {
		return fmt.Errorf("store: rotating session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rotating session: %w", err)
	}
	if n == 0 {
		_, _ = db.conn.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE id = ?`, sessionID)
		return ErrRotationConflict
	}

	return nil
}

// DeleteSession removes one session (logout).
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: deleting session: %w", err)
	}
	return nil
}

// DeleteAllSessionsForUser removes every session of a user (logout-all).
func (db *DB) DeleteAllSessionsForUser(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("store: deleting sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and reports how
// many were swept.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("store: sweeping sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: sweeping sessions: %w", err)
	}
	return n, nil
}
