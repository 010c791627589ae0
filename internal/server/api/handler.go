package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"pagefeed/watcher/internal/feed"
	"pagefeed/watcher/internal/schedule"
	"pagefeed/watcher/internal/server/pagination"
	"pagefeed/watcher/internal/server/storage"
	"pagefeed/watcher/internal/store"
)

const defaultLimit = 100
const maxLimit = 1000

// EntriesResponse is the body of GET /v1/entries.
type EntriesResponse struct {
	Entries    []feed.Entry `json:"entries"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

// PageStatus is the check state of one page.
type PageStatus struct {
	Slug          string     `json:"slug"`
	Name          string     `json:"name"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Enabled       bool       `json:"enabled"`
	Category      []string   `json:"category,omitempty"`
	CheckInterval string     `json:"check_interval"`
	Cooldown      string     `json:"cooldown"`
	LastChecked   *time.Time `json:"last_checked,omitempty"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextCheck     *time.Time `json:"next_check,omitempty"`
}

// PagesResponse is the body of GET /v1/pages.
type PagesResponse struct {
	Pages []PageStatus `json:"pages"`
}

// Handler serves the JSON API.
type Handler struct {
	repo      storage.PageRepository
	projector *feed.Projector
}

// NewHandler creates a new handler instance.
func NewHandler(repo storage.PageRepository, projector *feed.Projector) *Handler {
	return &Handler{
		repo:      repo,
		projector: projector,
	}
}

// GetEntries handles requests for feed entries, newest change first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing entries request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	cursor, err := decodeOptionalCursor(cursorStr)
	if err != nil {
		log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
		http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
		return
	}

	entries, err := h.projector.Entries(r.Context(), limit+1, cursor) // Fetch one extra
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching feed entries")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next := pagination.EncodeCursor(last.LastModified, last.Slug)
		nextCursorStr = &next
	}

	writeJSON(w, r, EntriesResponse{Entries: entries, NextCursor: nextCursorStr})
}

// GetPages lists every page with its check state and next due time.
func (h *Handler) GetPages(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	pages, err := h.repo.ListPages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error listing pages")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := PagesResponse{Pages: make([]PageStatus, 0, len(pages))}
	for i := range pages {
		p := &pages[i]
		st := PageStatus{
			Slug:          p.Slug,
			Name:          p.Name,
			Title:         p.Title(),
			URL:           p.URL,
			Enabled:       p.Enabled,
			Category:      p.Category,
			CheckInterval: p.CheckInterval.Duration().String(),
			Cooldown:      p.Cooldown.Duration().String(),
			LastError:     p.LastError.String,
		}
		if p.LastChecked.Valid {
			st.LastChecked = utc(p.LastChecked.Time)
			if p.Enabled {
				st.NextCheck = utc(schedule.NextCheck(p))
			}
		}
		if p.LastModified.Valid {
			st.LastModified = utc(p.LastModified.Time)
		}
		resp.Pages = append(resp.Pages, st)
	}

	writeJSON(w, r, resp)
}

func decodeOptionalCursor(s string) (*store.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	return pagination.DecodeCursor(s)
}

func utc(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write(jsonBytes); writeErr != nil {
		log.Error().Err(writeErr).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
