package detect

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"pagefeed/watcher/internal/models"
)

var (
	// ErrInvalidSelector is returned when a page's item or text selector
	// does not parse.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrNoMatch is returned when the item selector matches nothing, which
	// usually means the page layout changed.
	ErrNoMatch = errors.New("item selector matched nothing")
)

const defaultItemSelector = "body"

// Rules select and clean the part of a page that is fingerprinted.
// Without selectors the whole body is used as is.
type Rules struct {
	ItemSelector sql.NullString
	TextSelector sql.NullString
	DeleteRegex  sql.NullString
}

// RulesFor returns the rules configured on page.
func RulesFor(page *models.Page) Rules {
	return Rules{
		ItemSelector: page.ItemSelector,
		TextSelector: page.TextSelector,
		DeleteRegex:  page.DeleteRegex,
	}
}

func (r Rules) selects() bool {
	return (r.ItemSelector.Valid && r.ItemSelector.String != "") ||
		(r.TextSelector.Valid && r.TextSelector.String != "")
}

// ValidateSelector checks that sel parses as a CSS selector group.
func (d *Detector) ValidateSelector(sel string) error {
	_, err := d.selector(sel)
	return err
}

func (d *Detector) selector(sel string) (cascadia.Selector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.selectors[sel]; ok {
		return c.sel, c.err
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		err = fmt.Errorf("%w %q: %v", ErrInvalidSelector, sel, err)
	}
	d.selectors[sel] = compiledSelector{sel: compiled, err: err}
	return compiled, err
}

// extract returns the concatenated inner HTML of every element matched by
// the item selector. When a text selector is set, each item contributes
// its first match instead, or itself when nothing inside it matches.
func (d *Detector) extract(body []byte, r Rules) ([]byte, error) {
	itemSrc := defaultItemSelector
	if r.ItemSelector.Valid && r.ItemSelector.String != "" {
		itemSrc = r.ItemSelector.String
	}
	itemSel, err := d.selector(itemSrc)
	if err != nil {
		return nil, err
	}
	var textSel cascadia.Selector
	if r.TextSelector.Valid && r.TextSelector.String != "" {
		if textSel, err = d.selector(r.TextSelector.String); err != nil {
			return nil, err
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	items := doc.FindMatcher(itemSel)
	if items.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, itemSrc)
	}

	var out bytes.Buffer
	var htmlErr error
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		region := item
		if textSel != nil {
			if text := item.FindMatcher(textSel).First(); text.Length() > 0 {
				region = text
			}
		}
		h, err := region.Html()
		if err != nil {
			htmlErr = fmt.Errorf("render selection: %w", err)
			return false
		}
		out.WriteString(h)
		return true
	})
	if htmlErr != nil {
		return nil, htmlErr
	}
	return out.Bytes(), nil
}
