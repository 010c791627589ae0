// Package schedule decides which pages are due for a check.
//
// Due-ness is a pure function of a page's stored check state and the
// current time, so the scheduler keeps no timers and survives restarts.
package schedule

import (
	"time"

	"pagefeed/watcher/internal/models"
)

// Reason explains why a page is due.
type Reason string

const (
	NeverChecked    Reason = "never-checked"
	IntervalElapsed Reason = "interval-elapsed"
	CooldownElapsed Reason = "cooldown-elapsed"
)

// Due is a page selected for checking.
type Due struct {
	Page   models.Page
	Reason Reason
}

// EffectiveInterval returns the minimum spacing between checks that applies
// to page at now: the cooldown while the last change is inside its cooldown
// window, the check interval otherwise. The bool reports the former.
func EffectiveInterval(page *models.Page, now time.Time) (time.Duration, bool) {
	cooldown := page.Cooldown.Duration()
	if page.LastModified.Valid && now.Sub(page.LastModified.Time) < cooldown {
		return cooldown, true
	}
	return page.CheckInterval.Duration(), false
}

// Check reports whether page is due at now, and why.
func Check(page *models.Page, now time.Time) (Reason, bool) {
	if !page.Enabled {
		return "", false
	}
	if !page.LastChecked.Valid {
		return NeverChecked, true
	}

	interval, inCooldown := EffectiveInterval(page, now)
	if now.Sub(page.LastChecked.Time) < interval {
		return "", false
	}
	if inCooldown || cooldownBinds(page) {
		return CooldownElapsed, true
	}
	return IntervalElapsed, true
}

// NextCheck returns the earliest instant at which page becomes due, or the
// zero time when it has never been checked.
//
// Since last_modified never exceeds last_checked, a page cannot come due
// inside its cooldown window, which reduces the rule to
// max(last_checked+check_interval, last_modified+cooldown).
func NextCheck(page *models.Page) time.Time {
	if !page.LastChecked.Valid {
		return time.Time{}
	}
	next := page.LastChecked.Time.Add(page.CheckInterval.Duration())
	if page.LastModified.Valid {
		if end := page.LastModified.Time.Add(page.Cooldown.Duration()); end.After(next) {
			next = end
		}
	}
	return next
}

// Select returns the due subset of pages at now, preserving input order.
// Disabled pages are never selected.
func Select(pages []models.Page, now time.Time) []Due {
	var due []Due
	for i := range pages {
		if reason, ok := Check(&pages[i], now); ok {
			due = append(due, Due{Page: pages[i], Reason: reason})
		}
	}
	return due
}

// cooldownBinds reports whether the cooldown window outlasted the regular
// interval after the last check.
func cooldownBinds(page *models.Page) bool {
	if !page.LastModified.Valid {
		return false
	}
	end := page.LastModified.Time.Add(page.Cooldown.Duration())
	return end.After(page.LastChecked.Time.Add(page.CheckInterval.Duration()))
}
