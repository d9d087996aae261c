// Package users mirrors the backend's user directory into the local
// database so display names and enrolment duplicate checks keep working
// when the backend is unreachable.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is one cached directory entry. PIN codes are never cached; the
// device holds no verifiable credentials.
type User struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	FingerprintID *int      `json:"fingerprint_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cache stores the mirrored directory.
type Cache struct {
	db *sql.DB
}

// NewCache creates a user cache over the local database.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// ReplaceAll swaps the cached directory for the given set atomically.
func (c *Cache) ReplaceAll(ctx context.Context, users []User) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning user cache refresh: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM users"); err != nil {
		return fmt.Errorf("clearing user cache: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range users {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (user_id, name, email, fingerprint_id, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			u.UserID, u.Name, nullableString(u.Email), u.FingerprintID, now,
		)
		if err != nil {
			return fmt.Errorf("caching user %s: %w", u.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user cache refresh: %w", err)
	}
	return nil
}

// List returns all cached users ordered by name.
func (c *Cache) List(ctx context.Context) ([]User, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT user_id, name, email, fingerprint_id, updated_at FROM users ORDER BY name ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying user cache: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ByFingerprintID returns the cached user holding the given template
// slot, or nil when the slot is unassigned.
func (c *Cache) ByFingerprintID(ctx context.Context, templateID int) (*User, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT user_id, name, email, fingerprint_id, updated_at FROM users WHERE fingerprint_id = ?",
		templateID,
	)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by fingerprint: %w", err)
	}
	return u, nil
}

// ByName returns the cached user with the given name, or nil. Face
// match identities are names, so this is the unlock path's lookup.
func (c *Cache) ByName(ctx context.Context, name string) (*User, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT user_id, name, email, fingerprint_id, updated_at FROM users WHERE name = ?",
		name,
	)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by name: %w", err)
	}
	return u, nil
}

// Count returns the cached directory size.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached users: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var email sql.NullString
	var fingerprintID sql.NullInt64
	var updatedAt string

	if err := row.Scan(&u.UserID, &u.Name, &email, &fingerprintID, &updatedAt); err != nil {
		return nil, err
	}

	if email.Valid {
		u.Email = email.String
	}
	if fingerprintID.Valid {
		id := int(fingerprintID.Int64)
		u.FingerprintID = &id
	}

	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user timestamp %q: %w", updatedAt, err)
	}
	u.UpdatedAt = t

	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cached user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cached users: %w", err)
	}

	if users == nil {
		users = []User{}
	}
	return users, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
