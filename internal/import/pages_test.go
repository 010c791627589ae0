package importpages

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagefeed/watcher/internal/database"
	"pagefeed/watcher/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "pages.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

const pagesCSV = `slug,name,url,category,delete_regex,check_interval,cooldown,enabled
twir,This Week in Rust,https://this-week-in-rust.org/,News/Rust,,2h,,
lwn,LWN,https://lwn.net/,,"Generated at [0-9:]+",30,12h,true
off,Retired,https://off.example/,,,,,false
twir,Duplicate,https://dup.example/,,,,,
bad-re,Bad Regex,https://bad.example/,,(unclosed,,,
bad-url,Bad URL,ftp://files.example/,,,,,
,No Slug,https://noslug.example/,,,,,
`

func TestImport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	summary, err := NewImporter(s).Import(ctx, strings.NewReader(pagesCSV))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 7 || summary.Imported != 3 || len(summary.Errors) != 4 {
		t.Fatalf("summary: %+v", summary)
	}
	if !strings.Contains(summary.Errors[0], "duplicate slug: twir") {
		t.Errorf("first error: %q", summary.Errors[0])
	}

	twir, err := s.GetPage(ctx, "twir")
	if err != nil {
		t.Fatal(err)
	}
	if twir.Name != "This Week in Rust" || twir.Title() != "News / Rust: This Week in Rust" {
		t.Errorf("twir: %+v", twir)
	}
	if twir.CheckInterval.Duration() != 2*time.Hour || twir.Cooldown.Duration() != 23*time.Hour+50*time.Minute {
		t.Errorf("twir pacing: %v / %v", twir.CheckInterval.Duration(), twir.Cooldown.Duration())
	}

	lwn, _ := s.GetPage(ctx, "lwn")
	if !lwn.DeleteRegex.Valid || lwn.DeleteRegex.String != "Generated at [0-9:]+" {
		t.Errorf("lwn delete_regex: %+v", lwn.DeleteRegex)
	}
	if lwn.CheckInterval.Duration() != 30*time.Minute || lwn.Cooldown.Duration() != 12*time.Hour {
		t.Errorf("lwn pacing: %v / %v", lwn.CheckInterval.Duration(), lwn.Cooldown.Duration())
	}

	off, _ := s.GetPage(ctx, "off")
	if off.Enabled {
		t.Error("off should be disabled")
	}

	if _, err := s.GetPage(ctx, "bad-re"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("invalid regex row was imported: %v", err)
	}
}

func TestImportMissingColumns(t *testing.T) {
	_, err := NewImporter(newTestStore(t)).Import(context.Background(), strings.NewReader("slug,url\na,https://a.example/\n"))
	if err == nil || !strings.Contains(err.Error(), "'name'") {
		t.Errorf("got %v", err)
	}
}

func TestImportPagesFromFileAndURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.csv")
	if err := os.WriteFile(path, []byte("slug,name,url\nfile,From File,https://file.example/\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("slug,name,url\nremote,Remote,https://remote.example/\n"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	imp := NewImporter(s)
	for _, src := range []string{path, srv.URL + "/pages.csv"} {
		summary, err := imp.ImportPages(context.Background(), src)
		if err != nil || summary.Imported != 1 {
			t.Errorf("%s: %+v %v", src, summary, err)
		}
	}

	if _, err := imp.ImportPages(context.Background(), filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestImportSelectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const csvData = `slug,name,url,item_selector,text_selector
shop,Shop,https://shop.example/,article.post,p.price
plain,Plain,https://plain.example/,,
broken,Broken,https://broken.example/,div[,
`
	summary, err := NewImporter(s).Import(ctx, strings.NewReader(csvData))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 2 || len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "invalid selector") {
		t.Fatalf("summary: %+v", summary)
	}

	shop, err := s.GetPage(ctx, "shop")
	if err != nil {
		t.Fatal(err)
	}
	if shop.ItemSelector.String != "article.post" || shop.TextSelector.String != "p.price" {
		t.Errorf("shop selectors: %+v %+v", shop.ItemSelector, shop.TextSelector)
	}
	plain, _ := s.GetPage(ctx, "plain")
	if plain.ItemSelector.Valid || plain.TextSelector.Valid {
		t.Errorf("plain selectors should be null: %+v %+v", plain.ItemSelector, plain.TextSelector)
	}
}
