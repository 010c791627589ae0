package schedule

import (
	"database/sql"
	"testing"
	"time"

	"pagefeed/watcher/internal/models"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func page(interval, cooldown time.Duration) *models.Page {
	p := models.NewPage("p", "Page", "https://example.org/")
	p.CheckInterval = models.Interval(interval)
	p.Cooldown = models.Interval(cooldown)
	return p
}

func at(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: true} }

func TestNeverCheckedAlwaysDue(t *testing.T) {
	p := page(2*time.Hour, 24*time.Hour)
	for _, now := range []time.Time{{}, t0, t0.Add(-1000 * time.Hour)} {
		reason, ok := Check(p, now)
		if !ok || reason != NeverChecked {
			t.Errorf("now=%v: got %q, %v", now, reason, ok)
		}
	}
	if !NextCheck(p).IsZero() {
		t.Errorf("NextCheck for never-checked page: %v", NextCheck(p))
	}
}

func TestDisabledNeverDue(t *testing.T) {
	p := page(time.Hour, time.Hour)
	p.Enabled = false
	if _, ok := Check(p, t0); ok {
		t.Error("disabled page should not be due")
	}
	p.LastChecked = at(t0.Add(-48 * time.Hour))
	if due := Select([]models.Page{*p}, t0); len(due) != 0 {
		t.Errorf("Select returned disabled page: %v", due)
	}
}

func TestIntervalAfterUnchanged(t *testing.T) {
	p := page(2*time.Hour, 24*time.Hour)
	p.LastChecked = at(t0)

	if _, ok := Check(p, t0.Add(2*time.Hour-time.Second)); ok {
		t.Error("due before check interval elapsed")
	}
	reason, ok := Check(p, t0.Add(2*time.Hour))
	if !ok || reason != IntervalElapsed {
		t.Errorf("at interval: got %q, %v", reason, ok)
	}
	if got := NextCheck(p); !got.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("NextCheck: got %v", got)
	}
}

func TestCooldownAfterChange(t *testing.T) {
	cooldown := 23*time.Hour + 50*time.Minute
	p := page(2*time.Hour, cooldown)
	p.LastChecked = at(t0)
	p.LastModified = at(t0)

	for _, d := range []time.Duration{2 * time.Hour, 12 * time.Hour, cooldown - time.Second} {
		if _, ok := Check(p, t0.Add(d)); ok {
			t.Errorf("due %v after change, inside cooldown", d)
		}
	}
	reason, ok := Check(p, t0.Add(cooldown))
	if !ok || reason != CooldownElapsed {
		t.Errorf("at cooldown end: got %q, %v", reason, ok)
	}
	if got := NextCheck(p); !got.Equal(t0.Add(cooldown)) {
		t.Errorf("NextCheck: got %v", got)
	}
}

func TestCooldownShorterThanInterval(t *testing.T) {
	p := page(4*time.Hour, time.Hour)
	p.LastChecked = at(t0)
	p.LastModified = at(t0)

	if _, ok := Check(p, t0.Add(2*time.Hour)); ok {
		t.Error("short cooldown must not shorten the regular interval")
	}
	reason, ok := Check(p, t0.Add(4*time.Hour))
	if !ok || reason != IntervalElapsed {
		t.Errorf("got %q, %v", reason, ok)
	}
}

// Walks the lifecycle of one page through first observation, a change,
// a quiet check and a failure.
func TestPageLifecycleScenarios(t *testing.T) {
	cooldown := 23*time.Hour + 50*time.Minute
	p := page(2*time.Hour, cooldown)

	// First check at T: never checked, so due.
	if reason, ok := Check(p, t0); !ok || reason != NeverChecked {
		t.Fatalf("first check: %q %v", reason, ok)
	}
	p.LastChecked = at(t0) // baseline only; no last_modified

	// At T+2h the interval has elapsed; the fetch finds a change.
	changeAt := t0.Add(2 * time.Hour)
	if _, ok := Check(p, changeAt); !ok {
		t.Fatal("page should be due at T+2h")
	}
	p.LastChecked = at(changeAt)
	p.LastModified = at(changeAt)

	// Not due again until T+2h+cooldown.
	if _, ok := Check(p, changeAt.Add(cooldown-time.Minute)); ok {
		t.Fatal("due inside cooldown")
	}
	quietAt := changeAt.Add(cooldown)
	if _, ok := Check(p, quietAt); !ok {
		t.Fatal("should be due once cooldown elapsed")
	}

	// Unchanged at T+2h+cooldown: back on the regular interval.
	p.LastChecked = at(quietAt)
	if got, want := NextCheck(p), quietAt.Add(2*time.Hour); !got.Equal(want) {
		t.Fatalf("NextCheck after quiet check: got %v, want %v", got, want)
	}
	if _, ok := Check(p, quietAt.Add(2*time.Hour-time.Second)); ok {
		t.Fatal("due before interval after quiet check")
	}

	// A failure only advances last_checked; the interval still governs.
	failAt := quietAt.Add(2 * time.Hour)
	p.LastChecked = at(failAt)
	if got, want := NextCheck(p), failAt.Add(2*time.Hour); !got.Equal(want) {
		t.Fatalf("NextCheck after failure: got %v, want %v", got, want)
	}
}

func TestSelectKeepsOrder(t *testing.T) {
	a := page(time.Hour, time.Hour)
	a.Slug = "a"
	b := page(time.Hour, time.Hour)
	b.Slug = "b"
	b.LastChecked = at(t0.Add(-30 * time.Minute))
	c := page(time.Hour, time.Hour)
	c.Slug = "c"
	c.LastChecked = at(t0.Add(-2 * time.Hour))

	due := Select([]models.Page{*a, *b, *c}, t0)
	if len(due) != 2 || due[0].Page.Slug != "a" || due[1].Page.Slug != "c" {
		t.Fatalf("got %+v", due)
	}
	if due[0].Reason != NeverChecked || due[1].Reason != IntervalElapsed {
		t.Errorf("reasons: %q %q", due[0].Reason, due[1].Reason)
	}
}
