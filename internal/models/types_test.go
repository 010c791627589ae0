package models

import (
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	c := ParseCategory(" News / /Rust ")
	if len(c) != 2 || c[0] != "News" || c[1] != "Rust" {
		t.Fatalf("ParseCategory: got %#v", c)
	}
	if c.String() != "News/Rust" {
		t.Errorf("String: got %q", c.String())
	}

	v, err := Category(nil).Value()
	if err != nil || v != nil {
		t.Errorf("empty category should store NULL, got %v, %v", v, err)
	}
}

func TestPageTitle(t *testing.T) {
	p := NewPage("twir", "This Week in Rust", "https://this-week-in-rust.org/")
	if p.Title() != "This Week in Rust" {
		t.Errorf("title without category: %q", p.Title())
	}
	p.Category = Category{"News", "Rust"}
	if p.Title() != "News / Rust: This Week in Rust" {
		t.Errorf("title with category: %q", p.Title())
	}
}

func TestNewPageDefaults(t *testing.T) {
	p := NewPage("a", "A", "https://a.example/")
	if p.CheckInterval.Duration() != 110*time.Minute {
		t.Errorf("check interval: %v", p.CheckInterval.Duration())
	}
	if p.Cooldown.Duration() != 1430*time.Minute {
		t.Errorf("cooldown: %v", p.Cooldown.Duration())
	}
	if !p.Enabled {
		t.Error("new pages should be enabled")
	}
}

func TestNullBodyHashScan(t *testing.T) {
	var n NullBodyHash
	if err := n.Scan(nil); err != nil || n.Valid {
		t.Fatalf("scan nil: %v, valid=%v", err, n.Valid)
	}
	if err := n.Scan([]byte{1, 2, 3}); err == nil {
		t.Error("short hash should be rejected")
	}

	raw := make([]byte, BodyHashSize)
	raw[0] = 0xab
	if err := n.Scan(raw); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !n.Valid || n.Hash[0] != 0xab {
		t.Errorf("unexpected hash %v", n)
	}

	v, err := n.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if b, ok := v.([]byte); !ok || len(b) != BodyHashSize {
		t.Errorf("value: got %T", v)
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	var i Interval
	if err := i.Scan(int64(6600)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if i.Duration() != 110*time.Minute {
		t.Errorf("duration: %v", i.Duration())
	}
	if err := i.Scan([]byte("60")); err != nil || i.Duration() != time.Minute {
		t.Errorf("scan bytes: %v %v", i.Duration(), err)
	}
	v, _ := Interval(2 * time.Hour).Value()
	if v != int64(7200) {
		t.Errorf("value: got %v", v)
	}
}

func TestSomeETag(t *testing.T) {
	if SomeETag("").Valid {
		t.Error("empty etag should be absent")
	}
	e := SomeETag(`W/"abc"`)
	if !e.Valid || e.ETag != `W/"abc"` {
		t.Errorf("unexpected %v", e)
	}
}
