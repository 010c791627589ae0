package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"pagefeed/watcher/internal/feed"
	"pagefeed/watcher/internal/server/api"
	"pagefeed/watcher/internal/server/storage"
)

// Options configures the feed server.
type Options struct {
	ListenAddr string
	// BaseURL is the public address used for links in the OPML list.
	BaseURL string
	// Title names the combined feed and the OPML list.
	Title string
	// APIKey protects the /v1 JSON routes when set. Feed routes stay open
	// so readers can subscribe without credentials.
	APIKey string
}

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if reqApiKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds the HTTP handler with logging middleware and all routes.
func NewRouter(repo storage.PageRepository, opts Options, logger zerolog.Logger) http.Handler {
	if opts.Title == "" {
		opts.Title = "pagefeed"
	}
	projector := feed.NewProjector(repo, opts.BaseURL)
	handler := api.NewHandler(repo, projector)

	r := chi.NewRouter()

	// Set up middleware chain for logging and request tracking
	r.Use(
		hlog.NewHandler(logger),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.UserAgentHandler("user_agent"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			idReq, _ := hlog.IDFromRequest(r)

			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Str("req_id", idReq.String()).
				Msg("HTTP Request")
		}),
	)

	r.Get("/health", healthCheckHandler(repo))
	r.Get("/feeds/{slug}", pageFeedHandler(projector))
	r.Get("/feed.xml", combinedFeedHandler(projector, opts.Title))
	r.Get("/opml", opmlHandler(projector, opts.Title))

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(opts.APIKey))
		r.Get("/entries", handler.GetEntries)
		r.Get("/pages", handler.GetPages)
	})

	return r
}

// RunServer starts the HTTP server with graceful shutdown support.
// It sets up routes, middleware, and handles OS signals for clean termination.
func RunServer(repo storage.PageRepository, opts Options, logger zerolog.Logger) error {
	// Add service identifier to the logger
	logger = logger.With().Str("service", "pagefeed-readonly").Logger()

	if opts.APIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}

	httpServer := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           NewRouter(repo, opts, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", opts.ListenAddr).Msg("Feed server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler responds 200 OK while the page store is reachable.
func healthCheckHandler(repo storage.PageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("Health check failed: store unreachable")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}
