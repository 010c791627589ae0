package importpages

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pagefeed/watcher/internal/config"
	"pagefeed/watcher/internal/detect"
	"pagefeed/watcher/internal/models"
	"pagefeed/watcher/internal/store"
)

// PageInserter is the part of the store the importer writes to.
type PageInserter interface {
	InsertPage(ctx context.Context, page *models.Page) error
}

// Summary reports the outcome of an import.
type Summary struct {
	Total    int
	Imported int
	Errors   []string
}

// Importer handles the page import process
type Importer struct {
	store    PageInserter
	detector *detect.Detector
	client   *http.Client
}

// NewImporter creates a new page importer
func NewImporter(s PageInserter) *Importer {
	return &Importer{
		store:    s,
		detector: detect.New(),
		client:   http.DefaultClient,
	}
}

// ImportPages imports pages from a CSV file path or an http(s) URL.
func (i *Importer) ImportPages(ctx context.Context, source string) (Summary, error) {
	log.Info().Str("csv", source).Msg("Starting page import")

	csvData, err := i.getCSVData(ctx, source)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer csvData.Close()

	summary, err := i.Import(ctx, csvData)
	if err != nil {
		return summary, fmt.Errorf("failed to import pages: %w", err)
	}

	log.Info().Msg("Import completed successfully")
	return summary, nil
}

func (i *Importer) getCSVData(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		log.Info().Str("url", source).Msg("Downloading CSV from remote source")
		return i.downloadCSV(ctx, source)
	}

	f, err := os.Open(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("CSV file not found: %s", source)
		}
		return nil, err
	}
	log.Info().Str("path", source).Msg("Using local CSV file")
	return f, nil
}

func (i *Importer) downloadCSV(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Import reads pages from CSV data. Rows that fail validation or collide
// with an existing slug are reported in the summary and skipped.
func (i *Importer) Import(ctx context.Context, csvData io.Reader) (Summary, error) {
	log.Debug().Msg("Starting to parse and import pages")

	reader := csv.NewReader(csvData)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("read CSV header: %w", err)
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	for _, column := range []string{"slug", "name", "url"} {
		if findColumnIndex(header, column) < 0 {
			return Summary{}, fmt.Errorf("required column '%s' not found in CSV header", column)
		}
	}
	cols := columns{
		slug:          findColumnIndex(header, "slug"),
		name:          findColumnIndex(header, "name"),
		url:           findColumnIndex(header, "url"),
		category:      findColumnIndex(header, "category"),
		deleteRegex:   findColumnIndex(header, "delete_regex"),
		itemSelector:  findColumnIndex(header, "item_selector"),
		textSelector:  findColumnIndex(header, "text_selector"),
		checkInterval: findColumnIndex(header, "check_interval"),
		cooldown:      findColumnIndex(header, "cooldown"),
		enabled:       findColumnIndex(header, "enabled"),
	}

	var summary Summary
	lineCount := 1 // Header was already read

	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}
		summary.Total++

		page, err := i.pageFromRecord(record, cols)
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Skipping invalid row")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		logger := log.With().
			Int("line", lineCount).
			Str("slug", page.Slug).
			Str("url", page.URL).
			Logger()

		if err := i.store.InsertPage(ctx, page); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				logger.Warn().Msg("Duplicate slug")
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: duplicate slug: %s", lineCount, page.Slug))
			} else {
				logger.Error().Err(err).Msg("Failed to insert page")
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			}
			continue
		}

		summary.Imported++
		logger.Debug().Msg("Page inserted successfully")
	}

	log.Info().
		Int("total", summary.Total).
		Int("success", summary.Imported).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")

	return summary, nil
}

type columns struct {
	slug, name, url, category, deleteRegex, itemSelector, textSelector, checkInterval, cooldown, enabled int
}

func (i *Importer) pageFromRecord(record []string, cols columns) (*models.Page, error) {
	slug := safeGetValue(record, cols.slug).String
	name := safeGetValue(record, cols.name).String
	rawURL := safeGetValue(record, cols.url).String

	switch {
	case slug == "":
		return nil, fmt.Errorf("empty slug")
	case strings.ContainsAny(slug, "/?#") || strings.ContainsFunc(slug, isSpace):
		return nil, fmt.Errorf("slug %q must not contain spaces or URL delimiters", slug)
	case name == "":
		return nil, fmt.Errorf("empty name")
	}
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	page := models.NewPage(slug, name, rawURL)

	if c := safeGetValue(record, cols.category); c.Valid {
		page.Category = models.ParseCategory(c.String)
	}
	if re := safeGetValue(record, cols.deleteRegex); re.Valid {
		if err := i.detector.Validate(re.String); err != nil {
			return nil, err
		}
		page.DeleteRegex = re
	}
	for _, sel := range []struct {
		value sql.NullString
		dst   *sql.NullString
	}{
		{safeGetValue(record, cols.itemSelector), &page.ItemSelector},
		{safeGetValue(record, cols.textSelector), &page.TextSelector},
	} {
		if !sel.value.Valid {
			continue
		}
		if err := i.detector.ValidateSelector(sel.value.String); err != nil {
			return nil, err
		}
		*sel.dst = sel.value
	}
	if v := safeGetValue(record, cols.checkInterval); v.Valid {
		d, err := config.ParseDuration(v.String)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid check_interval %q", v.String)
		}
		page.CheckInterval = models.Interval(d)
	}
	if v := safeGetValue(record, cols.cooldown); v.Valid {
		d, err := config.ParseDuration(v.String)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid cooldown %q", v.String)
		}
		page.Cooldown = models.Interval(d)
	}
	if v := safeGetValue(record, cols.enabled); v.Valid {
		enabled, err := strconv.ParseBool(v.String)
		if err != nil {
			return nil, fmt.Errorf("invalid enabled %q", v.String)
		}
		page.Enabled = enabled
	}
	return page, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns a sql.NullString from a record at the specified index.
// If the index is out of bounds or the value is empty, it returns an invalid NullString.
func safeGetValue(record []string, index int) sql.NullString {
	if index >= 0 && index < len(record) {
		if v := strings.TrimSpace(record[index]); v != "" {
			return sql.NullString{String: v, Valid: true}
		}
	}
	return sql.NullString{Valid: false}
}
