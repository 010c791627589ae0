package storage

import (
	"context"

	"pagefeed/watcher/internal/database"
	"pagefeed/watcher/internal/feed"
	"pagefeed/watcher/internal/models"
	"pagefeed/watcher/internal/store"
)

// PageRepository defines the read-only operations the feed server needs.
type PageRepository interface {
	feed.Source
	ListPages(ctx context.Context) ([]models.Page, error)
	Ping(ctx context.Context) error
}

var _ PageRepository = (*store.Store)(nil)

// NewRepository creates a new repository instance. Open db read-only so
// the server can never mutate check state.
func NewRepository(db *database.DB) PageRepository {
	return store.New(db)
}
