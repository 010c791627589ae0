package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"pagefeed/watcher/internal/store"
)

const cursorSeparator = ","
const timeFormat = time.RFC3339Nano // Use nano for precision

// EncodeCursor creates an opaque cursor string from the last entry's change
// time and slug.
func EncodeCursor(ts time.Time, slug string) string {
	key := ts.UTC().Format(timeFormat) + cursorSeparator + slug
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor parses the opaque cursor string back into a store cursor.
// The timestamp never contains the separator, so slugs may.
func DecodeCursor(encodedCursor string) (*store.Cursor, error) {
	decodedBytes, err := base64.URLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decodedBytes), cursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	ts, err := time.Parse(timeFormat, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return &store.Cursor{LastModified: ts.UTC(), Slug: parts[1]}, nil
}
