package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pagefeed/watcher/internal/claim"
	"pagefeed/watcher/internal/detect"
	"pagefeed/watcher/internal/fetch"
	"pagefeed/watcher/internal/models"
	"pagefeed/watcher/internal/schedule"
)

// PageStore is the part of the page store the poller needs.
type PageStore interface {
	ListEnabledPages(ctx context.Context) ([]models.Page, error)
	GetPage(ctx context.Context, slug string) (*models.Page, error)
	UpdatePage(ctx context.Context, slug string, u models.PageUpdate) error
}

// Fetcher performs one conditional GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, etag models.NullETag) fetch.Outcome
}

// Forced is the reason recorded for checks requested by slug.
const Forced schedule.Reason = "forced"

const (
	defaultStoreTimeout = 15 * time.Second
	releaseTimeout      = 5 * time.Second
	progressInterval    = time.Minute
)

// Options configures a Poller. Zero values select defaults.
type Options struct {
	WorkerCount  int
	StoreTimeout time.Duration
	Claimer      claim.Claimer
	Detector     *detect.Detector
	// Clock and NewItemID are replaced in tests.
	Clock     func() time.Time
	NewItemID func() uuid.UUID
}

// Poller runs poll cycles: it selects due pages, checks them on a bounded
// worker pool and records each attempt in the store.
type Poller struct {
	store        PageStore
	fetcher      Fetcher
	detector     *detect.Detector
	claims       claim.Claimer
	WorkerCount  int
	storeTimeout time.Duration
	clock        func() time.Time
	newItemID    func() uuid.UUID

	activeWorkers atomic.Int32
	totals        counters
}

// Stats counts page-check attempts.
type Stats struct {
	Checked     int64
	Unchanged   int64
	Changed     int64
	Failed      int64
	StoreErrors int64
	Skipped     int64
}

type counters struct {
	checked, unchanged, changed, failed, storeErrors, skipped atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Checked:     c.checked.Load(),
		Unchanged:   c.unchanged.Load(),
		Changed:     c.changed.Load(),
		Failed:      c.failed.Load(),
		StoreErrors: c.storeErrors.Load(),
		Skipped:     c.skipped.Load(),
	}
}

func (c *counters) add(s Stats) {
	c.checked.Add(s.Checked)
	c.unchanged.Add(s.Unchanged)
	c.changed.Add(s.Changed)
	c.failed.Add(s.Failed)
	c.storeErrors.Add(s.StoreErrors)
	c.skipped.Add(s.Skipped)
}

func (c *counters) record(r Result) {
	switch {
	case r.Skipped:
		c.skipped.Add(1)
		return
	case r.Abandoned:
		return
	}
	c.checked.Add(1)
	switch r.Verdict {
	case detect.Changed:
		c.changed.Add(1)
	case detect.Failed:
		c.failed.Add(1)
	default:
		c.unchanged.Add(1)
	}
	if r.StoreErr != nil {
		c.storeErrors.Add(1)
	}
}

// Result describes one page-check attempt.
type Result struct {
	Slug    string
	Reason  schedule.Reason
	Verdict detect.Verdict
	// Err is the fetch or processing failure recorded as last_error.
	Err error
	// StoreErr is set when the attempt could not be recorded.
	StoreErr error
	// Skipped means another worker or poller held the page.
	Skipped bool
	// Abandoned means the attempt was cut short by cancellation and nothing
	// was written.
	Abandoned bool
}

// NewPoller creates a poller over store and fetcher.
func NewPoller(store PageStore, fetcher Fetcher, opts Options) (*Poller, error) {
	if store == nil {
		return nil, fmt.Errorf("page store cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = runtime.NumCPU()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Claimer == nil {
		opts.Claimer = claim.NewMemory()
	}
	if opts.Detector == nil {
		opts.Detector = detect.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewItemID == nil {
		opts.NewItemID = uuid.New
	}

	return &Poller{
		store:        store,
		fetcher:      fetcher,
		detector:     opts.Detector,
		claims:       opts.Claimer,
		WorkerCount:  opts.WorkerCount,
		storeTimeout: opts.StoreTimeout,
		clock:        opts.Clock,
		newItemID:    opts.NewItemID,
	}, nil
}

// Run polls until ctx is cancelled: one cycle immediately, then one per
// interval. A zero interval runs a single cycle.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if _, err := p.RunCycle(ctx); err != nil {
		log.Error().
			Err(err).
			Msg("Poll cycle failed")
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopping")
			return nil
		case <-ticker.C:
			if _, err := p.RunCycle(ctx); err != nil {
				log.Error().
					Err(err).
					Msg("Poll cycle failed")
			}
		}
	}
}

// RunCycle checks every page that is due now. Per-page failures are
// recorded on the pages; only a failure to list pages is returned.
func (p *Poller) RunCycle(ctx context.Context) (Stats, error) {
	start := p.clock()
	now := p.timestamp()

	listCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	pages, err := p.store.ListEnabledPages(listCtx)
	cancel()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load pages: %w", err)
	}

	due := schedule.Select(pages, now)
	log.Info().
		Int("enabled_pages", len(pages)).
		Int("due_pages", len(due)).
		Msg("Starting poll cycle")

	stats := p.process(ctx, due)
	p.totals.add(stats)

	log.Info().
		Int64("checked", stats.Checked).
		Int64("unchanged", stats.Unchanged).
		Int64("changed", stats.Changed).
		Int64("failed", stats.Failed).
		Int64("store_errors", stats.StoreErrors).
		Int64("skipped", stats.Skipped).
		Dur("duration", p.clock().Sub(start)).
		Msg("Poll cycle complete")
	return stats, nil
}

// ForceCheck checks one page now, regardless of its schedule. Disabled pages
// are checked too.
func (p *Poller) ForceCheck(ctx context.Context, slug string) (Result, error) {
	getCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	page, err := p.store.GetPage(getCtx, slug)
	cancel()
	if err != nil {
		return Result{Slug: slug}, fmt.Errorf("load page %s: %w", slug, err)
	}

	r := p.checkPage(ctx, schedule.Due{Page: *page, Reason: Forced})
	p.totals.record(r)
	p.logResult(r)
	return r, nil
}

// Stats returns totals across all cycles run by this poller.
func (p *Poller) Stats() Stats {
	return p.totals.snapshot()
}

// process fans due pages out to the worker pool and waits for all of them.
func (p *Poller) process(ctx context.Context, due []schedule.Due) Stats {
	if len(due) == 0 {
		return Stats{}
	}

	var cycle counters
	pageQueue := make(chan schedule.Due, p.WorkerCount*2)
	resultQueue := make(chan Result, p.WorkerCount)

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go p.logProgress(progressCtx, &cycle, pageQueue)

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range resultQueue {
			cycle.record(r)
			p.logResult(r)
		}
	}()

	var workerWg sync.WaitGroup
	workers := min(p.WorkerCount, len(due))
	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go p.pageWorker(ctx, i, pageQueue, resultQueue, &workerWg)
	}

queueLoop:
	for _, d := range due {
		select {
		case pageQueue <- d:
		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("Context cancelled during page queuing")
			break queueLoop
		}
	}
	close(pageQueue)

	workerWg.Wait()
	close(resultQueue)
	<-collected
	return cycle.snapshot()
}

// pageWorker checks pages from the queue until it is closed.
func (p *Poller) pageWorker(ctx context.Context, id int, pageQueue <-chan schedule.Due, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)
	log.Debug().Int("worker", id).Msg("Page worker started")

	for d := range pageQueue {
		if ctx.Err() != nil {
			// Drain without checking so the queuing loop can finish.
			continue
		}
		results <- p.checkPage(ctx, d)
	}
	log.Debug().Int("worker", id).Msg("Page worker exiting")
}

// checkPage runs one attempt: claim, fetch, detect, record, release.
func (p *Poller) checkPage(ctx context.Context, d schedule.Due) Result {
	page := d.Page
	r := Result{Slug: page.Slug, Reason: d.Reason}

	ok, err := p.claims.TryClaim(ctx, page.Slug)
	if err != nil {
		log.Warn().
			Err(err).
			Str("slug", page.Slug).
			Msg("Could not claim page, skipping")
	}
	if !ok {
		r.Skipped = true
		return r
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := p.claims.Release(relCtx, page.Slug); err != nil {
			log.Warn().
				Err(err).
				Str("slug", page.Slug).
				Msg("Failed to release page claim")
		}
	}()

	now := p.timestamp()
	out := p.fetcher.Fetch(ctx, page.URL, page.HTTPETag)
	if out.Kind == fetch.Failed && ctx.Err() != nil {
		r.Abandoned = true
		return r
	}

	res := p.detector.Detect(out, page.HTTPBodyHash, detect.RulesFor(&page))
	r.Verdict = res.Verdict
	r.Err = res.Err

	update := p.buildUpdate(&page, out, res, now)

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	if err := p.store.UpdatePage(storeCtx, page.Slug, update); err != nil {
		r.StoreErr = err
	}
	return r
}

// buildUpdate maps an outcome to the fields written for this attempt.
func (p *Poller) buildUpdate(page *models.Page, out fetch.Outcome, res detect.Result, now time.Time) models.PageUpdate {
	u := models.PageUpdate{LastChecked: now}

	switch res.Verdict {
	case detect.Failed:
		reason := "unknown error"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		u.LastError = sql.NullString{String: reason, Valid: true}

	case detect.Unchanged:
		if etagRotated(page.HTTPETag, out) {
			etag := out.ETag
			u.HTTPETag = &etag
		}

	case detect.Baseline:
		etag, hash := out.ETag, res.Hash
		u.HTTPETag = &etag
		u.HTTPBodyHash = &hash

	case detect.Changed:
		etag, hash := out.ETag, res.Hash
		itemID := p.newItemID()
		u.LastModified = &now
		u.ItemID = &itemID
		u.HTTPETag = &etag
		u.HTTPBodyHash = &hash
	}
	return u
}

// etagRotated reports whether an unchanged check returned a validator that
// should replace the stored one. A 304 without a validator keeps the old one.
func etagRotated(stored models.NullETag, out fetch.Outcome) bool {
	switch out.Kind {
	case fetch.Fetched:
		return out.ETag != stored
	case fetch.NotModified:
		return out.ETag.Valid && out.ETag != stored
	}
	return false
}

// timestamp returns the clock in UTC at the store's precision.
func (p *Poller) timestamp() time.Time {
	return p.clock().UTC().Truncate(time.Microsecond)
}

func (p *Poller) logResult(r Result) {
	switch {
	case r.Skipped:
		log.Debug().
			Str("slug", r.Slug).
			Msg("Page claimed elsewhere, skipped")
	case r.Abandoned:
		log.Info().
			Str("slug", r.Slug).
			Msg("Page check abandoned on shutdown")
	case r.StoreErr != nil:
		log.Error().
			Err(r.StoreErr).
			Str("slug", r.Slug).
			Str("outcome", r.Verdict.String()).
			Msg("Failed to record page check")
	case r.Verdict == detect.Failed:
		ev := log.Warn().
			Err(r.Err).
			Str("slug", r.Slug).
			Str("reason", string(r.Reason))
		if errors.Is(r.Err, detect.ErrInvalidPattern) {
			ev.Msg("Page has an invalid delete_regex")
			return
		}
		ev.Bool("transient", fetch.IsTransient(r.Err)).
			Msg("Page check failed")
	case r.Verdict == detect.Changed:
		log.Info().
			Str("slug", r.Slug).
			Str("reason", string(r.Reason)).
			Msg("Page changed")
	default:
		log.Debug().
			Str("slug", r.Slug).
			Str("outcome", r.Verdict.String()).
			Str("reason", string(r.Reason)).
			Msg("Page checked")
	}
}

func (p *Poller) logProgress(ctx context.Context, cycle *counters, pageQueue chan schedule.Due) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := cycle.snapshot()
			log.Info().
				Int64("checked", s.Checked).
				Int64("changed", s.Changed).
				Int64("failed", s.Failed).
				Int32("active_workers", p.activeWorkers.Load()).
				Int("page_queue_size", len(pageQueue)).
				Msg("Processing progress")
		case <-ctx.Done():
			return
		}
	}
}
