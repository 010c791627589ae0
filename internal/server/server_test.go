package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"pagefeed/watcher/internal/database"
	"pagefeed/watcher/internal/models"
	"pagefeed/watcher/internal/server/api"
	"pagefeed/watcher/internal/server/storage"
	"pagefeed/watcher/internal/store"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// seed creates three changed pages a, b, c (c newest), one baseline-only
// page and one disabled page.
func seed(t *testing.T) storage.PageRepository {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "pages.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db)
	ctx := context.Background()

	insert := func(p *models.Page) {
		if err := s.InsertPage(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	changed := func(slug string, at time.Time) {
		id := uuid.New()
		if err := s.UpdatePage(ctx, slug, models.PageUpdate{LastChecked: at, LastModified: &at, ItemID: &id}); err != nil {
			t.Fatal(err)
		}
	}

	for i, slug := range []string{"a", "b", "c"} {
		p := models.NewPage(slug, "Page "+strings.ToUpper(slug), "https://"+slug+".example/")
		p.Category = models.Category{"Tech"}
		insert(p)
		changed(slug, base.Add(time.Duration(i)*time.Hour))
	}
	insert(models.NewPage("quiet", "Quiet", "https://quiet.example/"))
	if err := s.UpdatePage(ctx, "quiet", models.PageUpdate{LastChecked: base}); err != nil {
		t.Fatal(err)
	}
	off := models.NewPage("off", "Off", "https://off.example/")
	off.Enabled = false
	insert(off)
	return s
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(seed(t), opts, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header ...string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Errorf("health: %d %q", resp.StatusCode, body)
	}
}

type pingFails struct{ storage.PageRepository }

func (pingFails) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthStoreDown(t *testing.T) {
	srv := httptest.NewServer(NewRouter(pingFails{seed(t)}, Options{}, zerolog.Nop()))
	defer srv.Close()
	if resp, _ := get(t, srv.URL+"/health"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: %d", resp.StatusCode)
	}
}

func TestPageFeedRoute(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, body := get(t, srv.URL+"/feeds/b")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("content type %q", ct)
	}
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Title != "Tech: Page B" || len(parsed.Items) != 1 {
		t.Fatalf("feed: %q with %d items", parsed.Title, len(parsed.Items))
	}
	if !strings.HasPrefix(parsed.Items[0].GUID, "urn:uuid:") {
		t.Errorf("guid %q", parsed.Items[0].GUID)
	}

	if resp, _ := get(t, srv.URL+"/feeds/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown slug: %d", resp.StatusCode)
	}
}

func TestCombinedFeedRoute(t *testing.T) {
	srv := newTestServer(t, Options{BaseURL: "http://feeds.local", Title: "My pages"})
	_, body := get(t, srv.URL+"/feed.xml")
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Title != "My pages" || len(parsed.Items) != 3 {
		t.Fatalf("feed: %q with %d items", parsed.Title, len(parsed.Items))
	}
	if parsed.Items[0].Title != "Tech: Page C" || parsed.Items[2].Title != "Tech: Page A" {
		t.Errorf("order: %q .. %q", parsed.Items[0].Title, parsed.Items[2].Title)
	}
}

func TestOPMLRoute(t *testing.T) {
	srv := newTestServer(t, Options{BaseURL: "http://feeds.local/"})
	resp, body := get(t, srv.URL+"/opml")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, `xmlUrl="http://feeds.local/feeds/quiet"`) {
		t.Errorf("missing quiet outline:\n%s", body)
	}
	if strings.Contains(body, "feeds/off") {
		t.Error("disabled page listed")
	}
}

func TestEntriesPagination(t *testing.T) {
	srv := newTestServer(t, Options{})

	var slugs []string
	url := srv.URL + "/v1/entries?limit=2"
	for page := 0; page < 3; page++ {
		resp, body := get(t, url)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, body)
		}
		var out api.EntriesResponse
		if err := json.Unmarshal([]byte(body), &out); err != nil {
			t.Fatal(err)
		}
		for _, e := range out.Entries {
			slugs = append(slugs, e.Slug)
		}
		if out.NextCursor == nil {
			break
		}
		url = srv.URL + "/v1/entries?limit=2&cursor=" + *out.NextCursor
	}
	if strings.Join(slugs, ",") != "c,b,a" {
		t.Errorf("entries: %v", slugs)
	}
}

func TestEntriesBadParams(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, q := range []string{"limit=0", "limit=abc", "limit=5000", "cursor=bm9wZQ=="} {
		if resp, _ := get(t, srv.URL+"/v1/entries?"+q); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, resp.StatusCode)
		}
	}
}

func TestPagesRoute(t *testing.T) {
	srv := newTestServer(t, Options{})
	_, body := get(t, srv.URL+"/v1/pages")
	var out api.PagesResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Pages) != 5 {
		t.Fatalf("pages: %d", len(out.Pages))
	}
	byslug := map[string]api.PageStatus{}
	for _, p := range out.Pages {
		byslug[p.Slug] = p
	}
	quiet := byslug["quiet"]
	if quiet.NextCheck == nil || !quiet.NextCheck.Equal(base.Add(models.DefaultCheckInterval)) {
		t.Errorf("quiet next check: %v", quiet.NextCheck)
	}
	if off := byslug["off"]; off.Enabled || off.NextCheck != nil {
		t.Errorf("off: %+v", off)
	}
	if a := byslug["a"]; a.NextCheck == nil || !a.NextCheck.Equal(base.Add(models.DefaultCooldown)) {
		t.Errorf("a next check: %v", a.NextCheck)
	}
}

func TestAPIKeyProtectsJSONOnly(t *testing.T) {
	srv := newTestServer(t, Options{APIKey: "s3cret"})

	if resp, _ := get(t, srv.URL+"/v1/pages"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/v1/pages", "X-API-Key", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/v1/pages", "X-API-Key", "s3cret"); resp.StatusCode != http.StatusOK {
		t.Errorf("right key: %d", resp.StatusCode)
	}
	if resp, _ := get(t, srv.URL+"/feeds/a"); resp.StatusCode != http.StatusOK {
		t.Errorf("feeds must stay open: %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Options{})
	resp, err := http.Post(srv.URL+"/feeds/a", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status %d", resp.StatusCode)
	}
}
