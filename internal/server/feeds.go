package server

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"pagefeed/watcher/internal/feed"
)

const combinedFeedLimit = 50

func pageFeedHandler(projector *feed.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		slug := chi.URLParam(r, "slug")

		rss, err := projector.PageFeed(r.Context(), slug)
		if err != nil {
			if errors.Is(err, feed.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			log.Error().Err(err).Str("slug", slug).Msg("Error building page feed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeXML(w, r, "application/rss+xml; charset=utf-8", rss)
	}
}

func combinedFeedHandler(projector *feed.Projector, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rss, err := projector.CombinedFeed(r.Context(), title, combinedFeedLimit)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Error building combined feed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeXML(w, r, "application/rss+xml; charset=utf-8", rss)
	}
}

func opmlHandler(projector *feed.Projector, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := projector.Subscriptions(r.Context(), title)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Error building OPML list")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeXML(w, r, "text/x-opml; charset=utf-8", doc)
	}
}

// writeXML renders doc fully before writing, so encoding errors still
// produce a 500.
func writeXML(w http.ResponseWriter, r *http.Request, contentType string, doc any) {
	var buf bytes.Buffer
	if err := feed.Write(&buf, doc); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error encoding XML response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing XML response body to client")
	}
}
