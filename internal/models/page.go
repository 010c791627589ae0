package models

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCheckInterval = 1*time.Hour + 50*time.Minute
	DefaultCooldown      = 23*time.Hour + 50*time.Minute
)

// Page represents a row in the 'pages' table
type Page struct {
	Slug        string         `db:"slug"`
	Name        string         `db:"name"`
	URL         string         `db:"url"`
	Enabled     bool           `db:"enabled"`
	Category    Category       `db:"category"`
	DeleteRegex sql.NullString `db:"delete_regex"`

	// CSS selectors choosing the fingerprinted region of an HTML page.
	ItemSelector sql.NullString `db:"item_selector"`
	TextSelector sql.NullString `db:"text_selector"`

	CheckInterval Interval `db:"check_interval"`
	Cooldown      Interval `db:"cooldown"`

	LastChecked  sql.NullTime   `db:"last_checked"`
	LastModified sql.NullTime   `db:"last_modified"`
	LastError    sql.NullString `db:"last_error"`
	ItemID       uuid.NullUUID  `db:"item_id"`

	HTTPETag     NullETag     `db:"http_etag"`
	HTTPBodyHash NullBodyHash `db:"http_body_hash"`
}

// NewPage creates a new enabled Page with default pacing values
func NewPage(slug, name, url string) *Page {
	return &Page{
		Slug:          slug,
		Name:          name,
		URL:           url,
		Enabled:       true,
		CheckInterval: Interval(DefaultCheckInterval),
		Cooldown:      Interval(DefaultCooldown),
	}
}

// Title composes the presentational title from category and name,
// e.g. "News / Rust: This Week in Rust".
func (p *Page) Title() string {
	if len(p.Category) == 0 {
		return p.Name
	}
	return strings.Join(p.Category, " / ") + ": " + p.Name
}

// PageUpdate holds the fields written by one poll attempt. Nil pointers
// leave the corresponding column unchanged.
type PageUpdate struct {
	LastChecked  time.Time
	LastModified *time.Time
	// LastError is always written; an invalid value clears it.
	LastError    sql.NullString
	ItemID       *uuid.UUID
	HTTPETag     *NullETag
	HTTPBodyHash *NullBodyHash
}
