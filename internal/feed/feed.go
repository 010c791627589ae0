// Package feed turns pages with a recorded change into feed entries and
// renders them as RSS 2.0 channels and an OPML subscription list.
//
// The projector never decides whether something changed; it only presents
// changes the poller already recorded.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagefeed/watcher/internal/models"
	"pagefeed/watcher/internal/store"
)

// ErrNotFound is returned for unknown slugs.
var ErrNotFound = errors.New("feed not found")

// Source is the read side of the page store.
type Source interface {
	FeedEntries(ctx context.Context, limit int, after *store.Cursor) ([]models.Page, error)
	ListEnabledPages(ctx context.Context) ([]models.Page, error)
	GetPage(ctx context.Context, slug string) (*models.Page, error)
}

// Entry is one feed item: the latest recorded change of a page.
type Entry struct {
	ItemID       uuid.UUID       `json:"item_id"`
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Title        string          `json:"title"`
	Category     models.Category `json:"category,omitempty"`
	URL          string          `json:"url"`
	LastModified time.Time       `json:"last_modified"`
	LastError    string          `json:"last_error,omitempty"`
}

// GUID returns the stable item identity as a URN.
func (e Entry) GUID() string {
	return e.ItemID.URN()
}

// Description is the item body shown to readers.
func (e Entry) Description() string {
	if e.LastError != "" {
		return fmt.Sprintf("Error while checking %s: %s", e.Name, e.LastError)
	}
	return e.Name + " was updated."
}

// EntryFromPage projects a page row. The bool is false for pages that have
// never changed.
func EntryFromPage(p *models.Page) (Entry, bool) {
	if !p.ItemID.Valid || !p.LastModified.Valid {
		return Entry{}, false
	}
	return Entry{
		ItemID:       p.ItemID.UUID,
		Slug:         p.Slug,
		Name:         p.Name,
		Title:        p.Title(),
		Category:     p.Category,
		URL:          p.URL,
		LastModified: p.LastModified.Time.UTC(),
		LastError:    p.LastError.String,
	}, true
}

// Projector builds feed documents from a Source.
type Projector struct {
	src     Source
	baseURL string
}

// NewProjector creates a projector. baseURL prefixes per-page feed links in
// the OPML list.
func NewProjector(src Source, baseURL string) *Projector {
	return &Projector{src: src, baseURL: strings.TrimRight(baseURL, "/")}
}

// FeedURL returns the per-page feed address for slug.
func (p *Projector) FeedURL(slug string) string {
	return p.baseURL + "/feeds/" + slug
}

// Entries returns changed pages, newest change first, starting after the
// cursor. limit <= 0 means no limit.
func (p *Projector) Entries(ctx context.Context, limit int, after *store.Cursor) ([]Entry, error) {
	pages, err := p.src.FeedEntries(ctx, limit, after)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(pages))
	for i := range pages {
		if e, ok := EntryFromPage(&pages[i]); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// PageFeed renders the channel of a single page, holding at most one item.
func (p *Projector) PageFeed(ctx context.Context, slug string) (*RSS, error) {
	page, err := p.src.GetPage(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
		}
		return nil, err
	}

	ch := Channel{
		Title:       page.Title(),
		Link:        page.URL,
		Description: "Changes to " + page.Name,
	}
	if e, ok := EntryFromPage(page); ok {
		ch.Items = []Item{newItem(e)}
		ch.LastBuildDate = formatDate(e.LastModified)
	}
	return newRSS(ch), nil
}

// CombinedFeed renders one channel with the latest change of every page.
func (p *Projector) CombinedFeed(ctx context.Context, title string, limit int) (*RSS, error) {
	entries, err := p.Entries(ctx, limit, nil)
	if err != nil {
		return nil, err
	}
	ch := Channel{
		Title:       title,
		Link:        p.baseURL + "/",
		Description: "Recent changes to watched pages",
	}
	for _, e := range entries {
		ch.Items = append(ch.Items, newItem(e))
	}
	if len(entries) > 0 {
		ch.LastBuildDate = formatDate(entries[0].LastModified)
	}
	return newRSS(ch), nil
}

// Subscriptions renders the OPML list of enabled pages, nested by category.
func (p *Projector) Subscriptions(ctx context.Context, title string) (*OPML, error) {
	pages, err := p.src.ListEnabledPages(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool {
		if a, b := pages[i].Category.String(), pages[j].Category.String(); a != b {
			return a < b
		}
		return pages[i].Name < pages[j].Name
	})

	doc := &OPML{Version: "2.0", Head: Head{Title: title}}
	for i := range pages {
		pg := &pages[i]
		parent := &doc.Body.Outlines
		for _, segment := range pg.Category {
			parent = &folder(parent, segment).Outlines
		}
		*parent = append(*parent, &Outline{
			Text:    pg.Name,
			Title:   pg.Name,
			Type:    "rss",
			XMLURL:  p.FeedURL(pg.Slug),
			HTMLURL: pg.URL,
		})
	}
	return doc, nil
}

// folder returns the category outline named text under parent, creating it
// when missing.
func folder(parent *[]*Outline, text string) *Outline {
	for _, o := range *parent {
		if o.Type == "" && o.Text == text {
			return o
		}
	}
	o := &Outline{Text: text, Title: text}
	*parent = append(*parent, o)
	return o
}
