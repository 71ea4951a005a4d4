// Package store persists reply drafts in sqlite and enforces their status
// lifecycle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a draft.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusFailed }

// Confidence is the drafter's own rating of a reply.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DedupWindowHours is how far back CheckRecentDraft looks by default.
const DedupWindowHours = 24

// Stored timestamps are fixed-width UTC text, so string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrStore is matched by every persistence failure.
	ErrStore             = errors.New("store error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("draft not found")
	ErrLocked            = errors.New("site is locked by another run")
)

// Error wraps a database failure. errors.Is(err, ErrStore) holds for it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string        { return fmt.Sprintf("store: failed to %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error        { return e.Err }
func (e *Error) Is(target error) bool { return target == ErrStore }

func storeErr(op string, err error) error { return &Error{Op: op, Err: err} }

// predecessors lists, per target status, the statuses it may be entered from.
var predecessors = map[Status][]Status{
	StatusApproved: {StatusPending},
	StatusSent:     {StatusApproved},
	StatusFailed:   {StatusPending, StatusApproved},
}

// Draft is one drafted reply to a thread.
type Draft struct {
	ID             int64
	ThreadID       string
	Site           string
	DraftText      string
	Confidence     Confidence // empty when unknown
	RequiresReview bool
	Status         Status
	CreatedAt      time.Time
	ApprovedAt     time.Time
	SentAt         time.Time
	Error          string
}

// Stats counts drafts per status.
type Stats struct {
	Total    int
	Pending  int
	Approved int
	Sent     int
	Failed   int
}

// Store manages the sqlite draft database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const draftColumns = `id, thread_id, site, draft_text, confidence, requires_review, status,
	created_at, approved_at, sent_at, error`

// scanDraft handles nullable columns when scanning a row
func scanDraft(scanner interface{ Scan(...any) error }) (*Draft, error) {
	var d Draft
	var confidence, approvedAt, sentAt, errStr sql.NullString
	var createdAt string
	var requiresReview int

	err := scanner.Scan(&d.ID, &d.ThreadID, &d.Site, &d.DraftText, &confidence, &requiresReview,
		&d.Status, &createdAt, &approvedAt, &sentAt, &errStr)
	if err != nil {
		return nil, err
	}

	d.Confidence = Confidence(confidence.String)
	d.RequiresReview = requiresReview != 0
	d.Error = errStr.String
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.ApprovedAt, err = parseTime(approvedAt.String); err != nil {
		return nil, err
	}
	if d.SentAt, err = parseTime(sentAt.String); err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// Open opens (creating if needed) the database at dbPath and initialises the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, storeErr("create database directory", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storeErr("open database", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS drafts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		site TEXT NOT NULL,
		draft_text TEXT NOT NULL,
		confidence TEXT,
		requires_review INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		approved_at TEXT,
		sent_at TEXT,
		error TEXT,
		UNIQUE(thread_id, site, created_at)
	);

	CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);
	CREATE INDEX IF NOT EXISTS idx_drafts_site_status ON drafts(site, status);

	-- one row per site while a run or send holds it
	CREATE TABLE IF NOT EXISTS site_locks (
		site TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return storeErr("initialise schema", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertDraft stores d, filling in ID, and Status and CreatedAt when unset.
// It returns the number of rows written.
func (s *Store) InsertDraft(ctx context.Context, d *Draft) (int64, error) {
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	requiresReview := 0
	if d.RequiresReview {
		requiresReview = 1
	}

	query := `
	INSERT INTO drafts (thread_id, site, draft_text, confidence, requires_review, status, created_at, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		d.ThreadID,
		d.Site,
		d.DraftText,
		nullString(string(d.Confidence)),
		requiresReview,
		string(d.Status),
		formatTime(d.CreatedAt),
		nullString(d.Error),
	)
	if err != nil {
		return 0, storeErr("insert draft", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, storeErr("get last insert id", err)
	}
	d.ID = id

	n, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("get rows affected", err)
	}
	return n, nil
}

// GetDraft returns nil, nil when no draft has the id.
func (s *Store) GetDraft(ctx context.Context, id int64) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("query draft", err)
	}
	return d, nil
}

// GetDraftsByStatus returns all drafts in status across sites, ordered by id.
func (s *Store) GetDraftsByStatus(ctx context.Context, status Status) ([]Draft, error) {
	return s.ListDrafts(ctx, "", status, 0)
}

// GetDraftsBySiteAndStatus returns the site's drafts in status, ordered by id.
func (s *Store) GetDraftsBySiteAndStatus(ctx context.Context, site string, status Status) ([]Draft, error) {
	return s.ListDrafts(ctx, site, status, 0)
}

// ListDrafts filters by site and status when they are non-empty, ordered by
// id. A positive limit keeps the newest rows only.
func (s *Store) ListDrafts(ctx context.Context, site string, status Status, limit int) ([]Draft, error) {
	var where []string
	var args []any
	if site != "" {
		where = append(where, "site = ?")
		args = append(args, site)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}

	query := `SELECT ` + draftColumns + ` FROM drafts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, limit)
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query drafts", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, storeErr("scan draft", err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate drafts", err)
	}
	return drafts, nil
}

// RecentDrafts returns the newest drafts across all sites, newest first.
func (s *Store) RecentDrafts(ctx context.Context, limit int) ([]Draft, error) {
	drafts, err := s.ListDrafts(ctx, "", "", limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(drafts)-1; i < j; i, j = i+1, j-1 {
		drafts[i], drafts[j] = drafts[j], drafts[i]
	}
	return drafts, nil
}

// UpdateStatus moves a draft to status. sent records sent_at and the error
// text, approved records approved_at, failed records the error text. A
// transition the lifecycle does not allow returns ErrInvalidTransition and
// leaves the row untouched.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, errText string) error {
	from, ok := predecessors[status]
	if !ok {
		return fmt.Errorf("%w: cannot move draft %d to %q", ErrInvalidTransition, id, status)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	now := formatTime(s.now())

	var query string
	var args []any
	switch status {
	case StatusSent:
		query = `UPDATE drafts SET status = ?, sent_at = ?, error = ?`
		args = []any{string(status), now, nullString(errText)}
	case StatusApproved:
		query = `UPDATE drafts SET status = ?, approved_at = ?`
		args = []any{string(status), now}
	default:
		query = `UPDATE drafts SET status = ?, error = ?`
		args = []any{string(status), nullString(errText)}
	}
	query += ` WHERE id = ? AND status IN (` + placeholders + `)`
	args = append(args, id)
	for _, st := range from {
		args = append(args, string(st))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update draft status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr("get rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM drafts WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return storeErr("query draft status", err)
	}
	return fmt.Errorf("%w: draft %d is %s, cannot become %s", ErrInvalidTransition, id, current, status)
}

// CheckRecentDraft returns the newest pending, approved or sent draft for
// the thread created within windowHours, or nil. Failed drafts never count.
// A non-positive window means DedupWindowHours.
func (s *Store) CheckRecentDraft(ctx context.Context, threadID, site string, windowHours int) (*Draft, error) {
	if windowHours <= 0 {
		windowHours = DedupWindowHours
	}
	cutoff := formatTime(s.now().Add(-time.Duration(windowHours) * time.Hour))

	query := `SELECT ` + draftColumns + ` FROM drafts
	WHERE thread_id = ? AND site = ? AND created_at > ? AND status IN ('pending', 'approved', 'sent')
	ORDER BY created_at DESC LIMIT 1`

	d, err := scanDraft(s.db.QueryRowContext(ctx, query, threadID, site, cutoff))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("check recent draft", err)
	}
	return d, nil
}

// GetStats counts drafts per status; an empty site counts all sites.
func (s *Store) GetStats(ctx context.Context, site string) (Stats, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status='pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status='approved' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status='sent' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0)
		FROM drafts WHERE (? = '' OR site = ?)`

	var st Stats
	err := s.db.QueryRowContext(ctx, query, site, site).Scan(&st.Total, &st.Pending, &st.Approved, &st.Sent, &st.Failed)
	if err != nil {
		return Stats{}, storeErr("get stats", err)
	}
	return st, nil
}

// AcquireSiteLock takes the per-site lock for holder. A lock older than ttl
// is treated as abandoned and taken over. Re-acquiring by the same holder
// refreshes it.
func (s *Store) AcquireSiteLock(ctx context.Context, site, holder string, ttl time.Duration) error {
	now := s.now()
	query := `
	INSERT INTO site_locks (site, holder, acquired_at) VALUES (?, ?, ?)
	ON CONFLICT(site) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at
	WHERE site_locks.holder = excluded.holder OR site_locks.acquired_at < ?
	`
	result, err := s.db.ExecContext(ctx, query, site, holder, formatTime(now), formatTime(now.Add(-ttl)))
	if err != nil {
		return storeErr("acquire site lock", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr("get rows affected", err)
	}
	if n == 0 {
		var other, since string
		if err := s.db.QueryRowContext(ctx, `SELECT holder, acquired_at FROM site_locks WHERE site = ?`, site).Scan(&other, &since); err != nil {
			return fmt.Errorf("%w: %s", ErrLocked, site)
		}
		return fmt.Errorf("%w: %s held by %s since %s", ErrLocked, site, other, since)
	}
	return nil
}

// ReleaseSiteLock drops the lock if holder still owns it.
func (s *Store) ReleaseSiteLock(ctx context.Context, site, holder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM site_locks WHERE site = ? AND holder = ?`, site, holder); err != nil {
		return storeErr("release site lock", err)
	}
	return nil
}
