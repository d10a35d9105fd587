package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrEmailOwned is returned when a write would bind an email that already
	// belongs to a different user.
	ErrEmailOwned = errors.New("store: email owned by another user")
)

// ProviderTokens carries the provider-issued credentials stored on a PROVIDER
// account.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// UserByID loads a user.
func (db *DB) UserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, role, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading user %s: %w", id, err)
	}
	return &u, nil
}

// EmailOwner returns the ownership record for email, or nil when the email is
// unclaimed.
func (db *DB) EmailOwner(ctx context.Context, email string) (*EmailOwnership, error) {
	var o EmailOwnership
	err := db.conn.QueryRowContext(ctx,
		`SELECT email, user_id, is_verified, updated_at FROM email_ownerships WHERE email = ?`, email,
	).Scan(&o.Email, &o.UserID, &o.IsVerified, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading email ownership: %w", err)
	}
	return &o, nil
}

// ProviderAccount returns userID's PROVIDER account, or nil when none exists.
func (db *DB) ProviderAccount(ctx context.Context, userID string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, type, provider, password_hash, provider_access_token,
		        provider_refresh_token, provider_token_expiry, created_at, updated_at
		 FROM accounts WHERE user_id = ? AND type = 'PROVIDER'`, userID)

	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading provider account: %w", err)
	}
	return acc, nil
}

// PasswordAccount returns userID's PASSWORD account, or nil when none exists.
func (db *DB) PasswordAccount(ctx context.Context, userID string) (*Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, type, provider, password_hash, provider_access_token,
		        provider_refresh_token, provider_token_expiry, created_at, updated_at
		 FROM accounts WHERE user_id = ? AND type = 'PASSWORD'`, userID)

	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading password account: %w", err)
	}
	return acc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var expiry sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Provider, &a.PasswordHash,
		&a.ProviderAccessToken, &a.ProviderRefreshToken, &expiry, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		a.ProviderTokenExpiry = expiry.Time
	}
	return &a, nil
}

// CreateOAuthUser creates a user with a verified email ownership and a
// PROVIDER account in one transaction. The ownership check runs inside the
// transaction: two concurrent signups for the same email cannot both commit.
func (db *DB) CreateOAuthUser(ctx context.Context, name, email string, role Role, provider string, tokens ProviderTokens) (*User, error) {
	now := time.Now()
	user := &User{ID: uuid.NewString(), Name: name, Role: role, CreatedAt: now, UpdatedAt: now}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := emailFreeOrOwnedBy(ctx, tx, email, user.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Name, user.Role, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_ownerships (email, user_id, is_verified, updated_at) VALUES (?, ?, 1, ?)`,
			email, user.ID, now,
		); err != nil {
			return fmt.Errorf("inserting email ownership: %w", err)
		}

		return upsertProviderAccount(ctx, tx, user.ID, provider, tokens, now)
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// CreateLocalUser creates a user with an unverified email ownership and a
// PASSWORD account in one transaction.
func (db *DB) CreateLocalUser(ctx context.Context, name, email string, role Role, passwordHash string) (*User, error) {
	now := time.Now()
	user := &User{ID: uuid.NewString(), Name: name, Role: role, CreatedAt: now, UpdatedAt: now}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := emailFreeOrOwnedBy(ctx, tx, email, user.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Name, user.Role, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_ownerships (email, user_id, is_verified, updated_at) VALUES (?, ?, 0, ?)`,
			email, user.ID, now,
		); err != nil {
			return fmt.Errorf("inserting email ownership: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, user_id, type, password_hash, created_at, updated_at)
			 VALUES (?, ?, 'PASSWORD', ?, ?, ?)`,
			uuid.NewString(), user.ID, passwordHash, now, now,
		); err != nil {
			return fmt.Errorf("inserting password account: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// LinkProvider attaches a verified email ownership and the single PROVIDER
// account to userID in one transaction. Fails with ErrEmailOwned when the
// email belongs to another user.
func (db *DB) LinkProvider(ctx context.Context, userID, email, provider string, tokens ProviderTokens) error {
	now := time.Now()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := emailFreeOrOwnedBy(ctx, tx, email, userID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_ownerships (email, user_id, is_verified, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(email) DO UPDATE SET is_verified = 1, updated_at = excluded.updated_at`,
			email, userID, now,
		); err != nil {
			return fmt.Errorf("upserting email ownership: %w", err)
		}

		return upsertProviderAccount(ctx, tx, userID, provider, tokens, now)
	})
}

// BindProviderLogin refreshes the PROVIDER account tokens and marks the email
// verified in one transaction, after the reconciliation engine accepted a
// provider login for userID.
func (db *DB) BindProviderLogin(ctx context.Context, userID, email, provider string, tokens ProviderTokens) error {
	now := time.Now()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_ownerships SET is_verified = 1, updated_at = ? WHERE email = ? AND user_id = ?`,
			now, email, userID,
		); err != nil {
			return fmt.Errorf("verifying email ownership: %w", err)
		}

		return upsertProviderAccount(ctx, tx, userID, provider, tokens, now)
	})
}

// MarkEmailVerified flips the verified flag after a successful OTP
// confirmation.
func (db *DB) MarkEmailVerified(ctx context.Context, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE email_ownerships SET is_verified = 1, updated_at = ? WHERE email = ?`,
		time.Now(), email)
	if err != nil {
		return fmt.Errorf("store: verifying email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EmailsForUser returns every ownership held by userID.
func (db *DB) EmailsForUser(ctx context.Context, userID string) ([]EmailOwnership, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT email, user_id, is_verified, updated_at FROM email_ownerships WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: listing emails: %w", err)
	}
	defer rows.Close()

	var out []EmailOwnership
	for rows.Next() {
		var o EmailOwnership
		if err := rows.Scan(&o.Email, &o.UserID, &o.IsVerified, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// StaleUnverifiedUsers returns users created before cutoff whose every account
// is PASSWORD-type and whose every email is unverified. These are the
// janitor's deletion candidates.
func (db *DB) StaleUnverifiedUsers(ctx context.Context, cutoff time.Time, limit int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.name, u.role, u.created_at, u.updated_at
		 FROM users u
		 WHERE u.created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM accounts a WHERE a.user_id = u.id AND a.type != 'PASSWORD')
		   AND NOT EXISTS (SELECT 1 FROM email_ownerships e WHERE e.user_id = u.id AND e.is_verified = 1)
		 LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing stale users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetPasswordHash replaces the hash on the user's PASSWORD account.
func (db *DB) SetPasswordHash(ctx context.Context, userID, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE user_id = ? AND type = 'PASSWORD'`,
		hash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("store: updating password hash: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the user; ownerships, accounts, and sessions cascade.
func (db *DB) DeleteUser(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("store: deleting user %s: %w", userID, err)
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}
	return nil
}

func emailFreeOrOwnedBy(ctx context.Context, tx *sql.Tx, email, userID string) error {
	var owner string
	err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM email_ownerships WHERE email = ?`, email,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking email ownership: %w", err)
	}
	if owner != userID {
		return ErrEmailOwned
	}
	return nil
}

func upsertProviderAccount(ctx context.Context, tx *sql.Tx, userID, provider string, tokens ProviderTokens, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET provider = ?, provider_access_token = ?, provider_refresh_token = ?,
		     provider_token_expiry = ?, updated_at = ?
		 WHERE user_id = ? AND type = 'PROVIDER'`,
		provider, tokens.AccessToken, tokens.RefreshToken, tokens.Expiry, now, userID)
	if err != nil {
		return fmt.Errorf("updating provider account: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, type, provider, provider_access_token,
		                       provider_refresh_token, provider_token_expiry, created_at, updated_at)
		 VALUES (?, ?, 'PROVIDER', ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, provider, tokens.AccessToken, tokens.RefreshToken,
		tokens.Expiry, now, now,
	); err != nil {
		return fmt.Errorf("inserting provider account: %w", err)
	}
	return nil
}
