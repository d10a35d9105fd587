// Package store persists the durable identity records (users, email
// ownerships, credential accounts, and per-device sessions) on an embedded
// SQLite database.
//
// The write-time invariants the auth flows depend on are enforced here, inside
// transactions, not left to callers: one email maps to at most one user, one
// PROVIDER account exists per user, and refresh-hash rotation is a
// compare-and-swap on the session's version column.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Role is a user's origin role.
type Role string

const (
	RoleShopper Role = "shopper"
	RoleSeller  Role = "seller"
	RoleAdmin   Role = "admin"
)

// AccountType discriminates credential methods.
type AccountType string

const (
	AccountPassword AccountType = "PASSWORD"
	AccountProvider AccountType = "PROVIDER"
)

// User is the identity root.
type User struct {
	ID        string
	Name      string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailOwnership binds an email address to exactly one user.
type EmailOwnership struct {
	Email      string
	UserID     string
	IsVerified bool
	UpdatedAt  time.Time
}

// Account is one credential method of a user. Provider token fields are only
// set on PROVIDER accounts, PasswordHash only on PASSWORD accounts.
type Account struct {
	ID                   string
	UserID               string
	Type                 AccountType
	Provider             string
	PasswordHash         string
	ProviderAccessToken  string
	ProviderRefreshToken string
	ProviderTokenExpiry  time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Session is one authenticated device. RefreshHash is an argon2id digest of
// the current refresh token, never the raw value. Version is the
// compare-and-swap token for rotation.
type Session struct {
	ID          string
	UserID      string
	RefreshHash string
	Device      string
	IP          string
	Active      bool
	Version     int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// DB wraps the sql.DB pool and implements the persistence operations the
// Engine depends on.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at dsn and runs migrations. Use
// ":memory:" for tests.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// The sessions CAS and reconciliation transactions assume serialized
	// writers; a single connection sidesteps SQLITE_BUSY under concurrency.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			role       TEXT NOT NULL CHECK (role IN ('shopper','seller','admin')),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS email_ownerships (
			email       TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			is_verified INTEGER NOT NULL DEFAULT 0,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_email_ownerships_user ON email_ownerships(user_id)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id                     TEXT PRIMARY KEY,
			user_id                TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type                   TEXT NOT NULL CHECK (type IN ('PASSWORD','PROVIDER')),
			provider               TEXT NOT NULL DEFAULT '',
			password_hash          TEXT NOT NULL DEFAULT '',
			provider_access_token  TEXT NOT NULL DEFAULT '',
			provider_refresh_token TEXT NOT NULL DEFAULT '',
			provider_token_expiry  TIMESTAMP,
			created_at             TIMESTAMP NOT NULL,
			updated_at             TIMESTAMP NOT NULL
		)`,
		// At most one PROVIDER account per user.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_one_provider
			ON accounts(user_id) WHERE type = 'PROVIDER'`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			refresh_hash TEXT NOT NULL,
			device       TEXT NOT NULL DEFAULT '',
			ip           TEXT NOT NULL DEFAULT '',
			active       INTEGER NOT NULL DEFAULT 1,
			version      INTEGER NOT NULL DEFAULT 1,
			expires_at   TIMESTAMP NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions(user_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
