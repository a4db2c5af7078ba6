package stream

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Render classifies a payload for the log: valid JSON is pretty-printed and
// tagged FormatJSON, everything else is logged verbatim as text.
func Render(raw string) (string, Format) {
	if gjson.Valid(raw) && looksStructured(raw) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(raw), "", "  "); err == nil {
			return buf.String(), FormatJSON
		}
	}
	return raw, FormatText
}

// MinifyJSON compacts a JSON document for the wire. The input must already
// be valid JSON.
func MinifyJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}

// Bare scalars like "42" are technically valid JSON but read better as text.
func looksStructured(raw string) bool {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
