package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"pagefeed/watcher/internal/database"
	"pagefeed/watcher/internal/models"
)

var (
	// ErrNotFound is returned when no page has the requested slug.
	ErrNotFound = errors.New("page not found")
	// ErrDuplicate is returned when inserting a slug that already exists.
	ErrDuplicate = errors.New("page already exists")
)

const pageColumns = `slug, name, url, enabled, category, delete_regex,
	item_selector, text_selector, check_interval, cooldown, last_checked, last_modified, last_error,
	item_id, http_etag, http_body_hash`

// Cursor marks the last entry of a feed page: entries strictly older than
// LastModified, or equally old with a greater slug, come next.
type Cursor struct {
	LastModified time.Time
	Slug         string
}

// Store reads and writes page rows through sqlx.
type Store struct {
	db *database.DB
}

// New creates a Store over an open database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// ListEnabledPages returns every enabled page, least recently checked first.
// Never-checked pages come before all others.
func (s *Store) ListEnabledPages(ctx context.Context) ([]models.Page, error) {
	var pages []models.Page
	query := `SELECT ` + pageColumns + ` FROM pages
		WHERE enabled
		ORDER BY (last_checked IS NOT NULL), last_checked ASC, slug ASC`
	if err := s.db.SelectContext(ctx, &pages, query); err != nil {
		return nil, fmt.Errorf("list enabled pages: %w", err)
	}
	return pages, nil
}

// ListPages returns all pages, including disabled ones, ordered by slug.
func (s *Store) ListPages(ctx context.Context) ([]models.Page, error) {
	var pages []models.Page
	query := `SELECT ` + pageColumns + ` FROM pages ORDER BY slug ASC`
	if err := s.db.SelectContext(ctx, &pages, query); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// GetPage returns a single page by slug.
func (s *Store) GetPage(ctx context.Context, slug string) (*models.Page, error) {
	var page models.Page
	query := s.db.Rebind(`SELECT ` + pageColumns + ` FROM pages WHERE slug = ?`)
	if err := s.db.GetContext(ctx, &page, query, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get page %s: %w", slug, err)
	}
	return &page, nil
}

// InsertPage creates a page row. Check state columns are written as given,
// so callers normally pass a page from models.NewPage.
func (s *Store) InsertPage(ctx context.Context, page *models.Page) error {
	if page.CheckInterval <= 0 {
		page.CheckInterval = models.Interval(models.DefaultCheckInterval)
	}
	if page.Cooldown < 0 {
		page.Cooldown = models.Interval(models.DefaultCooldown)
	}

	query := `INSERT INTO pages (` + pageColumns + `) VALUES (
		:slug, :name, :url, :enabled, :category, :delete_regex,
		:item_selector, :text_selector, :check_interval, :cooldown, :last_checked, :last_modified, :last_error,
		:item_id, :http_etag, :http_body_hash)`
	if _, err := s.db.NamedExecContext(ctx, query, page); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, page.Slug)
		}
		return fmt.Errorf("insert page %s: %w", page.Slug, err)
	}
	return nil
}

// SetEnabled retires or re-activates a page.
func (s *Store) SetEnabled(ctx context.Context, slug string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE pages SET enabled = ? WHERE slug = ?`), enabled, slug)
	if err != nil {
		return fmt.Errorf("set enabled for %s: %w", slug, err)
	}
	return expectOneRow(res, slug)
}

// UpdatePage applies the result of one poll attempt in a single UPDATE
// statement, so either every field changes or none does.
func (s *Store) UpdatePage(ctx context.Context, slug string, u models.PageUpdate) error {
	sets := []string{"last_checked = ?", "last_error = ?"}
	args := []any{u.LastChecked.UTC(), u.LastError}

	if u.LastModified != nil {
		sets = append(sets, "last_modified = ?")
		args = append(args, u.LastModified.UTC())
	}
	if u.ItemID != nil {
		sets = append(sets, "item_id = ?")
		args = append(args, u.ItemID.String())
	}
	if u.HTTPETag != nil {
		sets = append(sets, "http_etag = ?")
		args = append(args, *u.HTTPETag)
	}
	if u.HTTPBodyHash != nil {
		sets = append(sets, "http_body_hash = ?")
		args = append(args, *u.HTTPBodyHash)
	}
	args = append(args, slug)

	query := s.db.Rebind(`UPDATE pages SET ` + strings.Join(sets, ", ") + ` WHERE slug = ?`)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update page %s: %w", slug, err)
	}
	return expectOneRow(res, slug)
}

// FeedEntries returns pages that have emitted a feed item, newest change
// first. A nil cursor starts from the newest entry; limit <= 0 means no limit.
func (s *Store) FeedEntries(ctx context.Context, limit int, after *Cursor) ([]models.Page, error) {
	var (
		pages []models.Page
		args  []any
	)
	query := `SELECT ` + pageColumns + ` FROM pages WHERE item_id IS NOT NULL`
	if after != nil {
		query += ` AND (last_modified < ? OR (last_modified = ? AND slug > ?))`
		ts := after.LastModified.UTC()
		args = append(args, ts, ts, after.Slug)
	}
	query += ` ORDER BY last_modified DESC, slug ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	if err := s.db.SelectContext(ctx, &pages, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("feed entries: %w", err)
	}
	return pages, nil
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func expectOneRow(res sql.Result, slug string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", slug, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
