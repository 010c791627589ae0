package models

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ETag is an opaque cache validator supplied by the origin server.
type ETag string

// NullETag is an ETag that may be NULL in the store.
type NullETag struct {
	ETag  ETag
	Valid bool
}

// SomeETag wraps a validator, treating the empty string as absent.
func SomeETag(s string) NullETag {
	return NullETag{ETag: ETag(s), Valid: s != ""}
}

// Scan implements sql.Scanner.
func (n *NullETag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.ETag, n.Valid = "", false
	case string:
		n.ETag, n.Valid = ETag(v), true
	case []byte:
		n.ETag, n.Valid = ETag(v), true
	default:
		return fmt.Errorf("cannot scan %T into NullETag", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (n NullETag) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return string(n.ETag), nil
}

// BodyHashSize is the length in bytes of a content fingerprint.
const BodyHashSize = 32

// BodyHash is a locally computed fingerprint of stripped page content.
type BodyHash [BodyHashSize]byte

// String returns the fingerprint as lowercase hex.
func (h BodyHash) String() string {
	return hex.EncodeToString(h[:])
}

// NullBodyHash is a BodyHash that may be NULL in the store.
type NullBodyHash struct {
	Hash  BodyHash
	Valid bool
}

// SomeBodyHash wraps a fingerprint as a present value.
func SomeBodyHash(h BodyHash) NullBodyHash {
	return NullBodyHash{Hash: h, Valid: true}
}

// Scan implements sql.Scanner.
func (n *NullBodyHash) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Hash, n.Valid = BodyHash{}, false
		return nil
	case []byte:
		if len(v) != BodyHashSize {
			return fmt.Errorf("body hash has %d bytes, want %d", len(v), BodyHashSize)
		}
		copy(n.Hash[:], v)
		n.Valid = true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into NullBodyHash", src)
	}
}

// Value implements driver.Valuer.
func (n NullBodyHash) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	b := make([]byte, BodyHashSize)
	copy(b, n.Hash[:])
	return b, nil
}

// Interval is a duration persisted as whole seconds.
type Interval time.Duration

// Duration converts the interval back to a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i)
}

// Scan implements sql.Scanner.
func (i *Interval) Scan(src any) error {
	var secs int64
	switch v := src.(type) {
	case int64:
		secs = v
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("parse interval: %w", err)
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse interval: %w", err)
		}
		secs = n
	default:
		return fmt.Errorf("cannot scan %T into Interval", src)
	}
	*i = Interval(time.Duration(secs) * time.Second)
	return nil
}

// Value implements driver.Valuer.
func (i Interval) Value() (driver.Value, error) {
	return int64(time.Duration(i) / time.Second), nil
}

// CategorySeparator joins category segments in the store.
const CategorySeparator = "/"

// Category is an ordered, path-like grouping label, e.g. ["News", "Rust"].
type Category []string

// ParseCategory splits a path-like label, dropping empty segments.
func ParseCategory(s string) Category {
	var c Category
	for _, seg := range strings.Split(s, CategorySeparator) {
		if seg = strings.TrimSpace(seg); seg != "" {
			c = append(c, seg)
		}
	}
	return c
}

// String returns the stored form of the category.
func (c Category) String() string {
	return strings.Join(c, CategorySeparator)
}

// Scan implements sql.Scanner.
func (c *Category) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = nil
	case string:
		*c = ParseCategory(v)
	case []byte:
		*c = ParseCategory(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Category", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (c Category) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return c.String(), nil
}
