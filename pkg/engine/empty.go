package engine

import (
	"bytes"
	"encoding/json"

	"github.com/bft-labs/fallbatch/internal/app"
)

// IsEmpty is the default empty-result check: nil, nil pointers and empty
// slices, maps and strings.
func IsEmpty(v any) bool {
	return app.IsEmpty(v)
}

// IsEmptyJSON extends IsEmpty to JSON payloads: a json.RawMessage or []byte
// holding only a null literal (or whitespace) is empty too. Use it with
// WithEmptyResult for engines over raw JSON.
func IsEmptyJSON(v any) bool {
	switch raw := v.(type) {
	case json.RawMessage:
		return isNullJSON(raw)
	case []byte:
		return isNullJSON(raw)
	}
	return app.IsEmpty(v)
}

func isNullJSON(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
