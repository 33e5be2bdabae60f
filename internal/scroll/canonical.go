package scroll

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes a JSON-compatible value deterministically: mapping
// keys sorted by Unicode code point, no insignificant whitespace, strict
// JSON string escaping. Content hashes are computed over this encoding, so
// every serialization that feeds a hash must go through here.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("scroll: canonical encode: %w", err)
	}
	// Encoder appends a trailing newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
