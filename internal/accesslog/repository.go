package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter controls which entries List returns.
type Filter struct {
	AccessType string // optional: filter by access type
	UserID     string // optional: filter by user
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains paginated entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines access log storage operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Unsynced(ctx context.Context, limit int) ([]Entry, error)
	MarkSynced(ctx context.Context, ids []string) error
}

// SQLiteRepository stores entries in the local buffer table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an access log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "acc-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_logs (id, user_id, access_type, authentication_method, confidence_score, notes, synced, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nullableString(entry.UserID),
		string(entry.AccessType), string(entry.AuthenticationMethod),
		entry.ConfidenceScore, nullableString(entry.Notes),
		boolToInt(entry.Synced),
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting access log: %w", err)
	}

	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for access log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.AccessType != "" {
		conditions = append(conditions, "access_type = ?")
		args = append(args, filter.AccessType)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM access_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, user_id, access_type, authentication_method, confidence_score, notes, synced, created_at FROM access_logs %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Unsynced returns the oldest entries not yet pushed to the backend.
func (r *SQLiteRepository) Unsynced(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, access_type, authentication_method, confidence_score, notes, synced, created_at
		 FROM access_logs WHERE synced = 0 ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unsynced access logs: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// MarkSynced flags the given entries as pushed.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("UPDATE access_logs SET synced = 1 WHERE id IN (%s)", placeholders) //nolint:gosec // placeholders only, values parameterised
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking access logs synced: %w", err)
	}
	return nil
}

// scanEntries reads all rows into entries.
func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var userID, notes sql.NullString
		var score sql.NullFloat64
		var synced int
		var createdAt string

		if err := rows.Scan(&entry.ID, &userID, &entry.AccessType,
			&entry.AuthenticationMethod, &score, &notes, &synced, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access log: %w", err)
		}

		if userID.Valid {
			entry.UserID = userID.String
		}
		if notes.Valid {
			entry.Notes = notes.String
		}
		if score.Valid {
			s := score.Float64
			entry.ConfidenceScore = &s
		}
		entry.Synced = synced == 1

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing access log timestamp %q: %w", createdAt, err)
		}
		entry.CreatedAt = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access logs: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
