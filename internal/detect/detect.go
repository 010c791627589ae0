// Package detect decides whether a fetched page changed.
package detect

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/crypto/sha3"

	"pagefeed/watcher/internal/fetch"
	"pagefeed/watcher/internal/models"
)

// ErrInvalidPattern is returned when a page's delete_regex does not compile.
var ErrInvalidPattern = errors.New("invalid delete_regex")

// Verdict is the decision for one fetch outcome.
type Verdict int

const (
	// Unchanged: not modified, or the fingerprint matches.
	Unchanged Verdict = iota
	// Baseline: first fingerprint for the page. Not reported as a change.
	Baseline
	// Changed: the fingerprint differs from the stored one.
	Changed
	// Failed: the fetch failed or the content could not be processed.
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Unchanged:
		return "unchanged"
	case Baseline:
		return "baseline"
	case Changed:
		return "changed"
	default:
		return "failed"
	}
}

// Result carries the verdict and, when content was fingerprinted, the new
// fingerprint.
type Result struct {
	Verdict Verdict
	Hash    models.NullBodyHash
	Err     error
}

// Reportable reports whether the result should produce a feed item.
func (r Result) Reportable() bool {
	return r.Verdict == Changed
}

// Fingerprint strips every match of strip from body and returns the
// SHA3-256 digest of what remains. A nil strip hashes body as is.
func Fingerprint(body []byte, strip *regexp.Regexp) models.BodyHash {
	if strip != nil {
		body = strip.ReplaceAll(body, nil)
	}
	return models.BodyHash(sha3.Sum256(body))
}

// Detector compares fetch outcomes against stored fingerprints. Compiled
// delete patterns and selectors are cached, so a Detector should be shared
// across checks.
type Detector struct {
	mu        sync.Mutex
	patterns  map[string]compiled
	selectors map[string]compiledSelector
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

type compiledSelector struct {
	sel cascadia.Selector
	err error
}

// New creates a Detector.
func New() *Detector {
	return &Detector{
		patterns:  make(map[string]compiled),
		selectors: make(map[string]compiledSelector),
	}
}

// Detect decides whether out is a reportable change for a page whose
// stored fingerprint is prior. The selected region of the body, with every
// delete pattern match removed, is what gets fingerprinted.
func (d *Detector) Detect(out fetch.Outcome, prior models.NullBodyHash, rules Rules) Result {
	switch out.Kind {
	case fetch.NotModified:
		return Result{Verdict: Unchanged}
	case fetch.Failed:
		return Result{Verdict: Failed, Err: out.Err}
	}

	var strip *regexp.Regexp
	if rules.DeleteRegex.Valid && rules.DeleteRegex.String != "" {
		re, err := d.compile(rules.DeleteRegex.String)
		if err != nil {
			return Result{Verdict: Failed, Err: err}
		}
		strip = re
	}

	body := out.Body
	if rules.selects() {
		region, err := d.extract(body, rules)
		if err != nil {
			return Result{Verdict: Failed, Err: err}
		}
		body = region
	}

	hash := models.SomeBodyHash(Fingerprint(body, strip))
	switch {
	case !prior.Valid:
		return Result{Verdict: Baseline, Hash: hash}
	case prior.Hash == hash.Hash:
		return Result{Verdict: Unchanged, Hash: hash}
	default:
		return Result{Verdict: Changed, Hash: hash}
	}
}

// Validate checks that pattern compiles.
func (d *Detector) Validate(pattern string) error {
	_, err := d.compile(pattern)
	return err
}

func (d *Detector) compile(pattern string) (*regexp.Regexp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.patterns[pattern]; ok {
		return c.re, c.err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	d.patterns[pattern] = compiled{re: re, err: err}
	return re, err
}
