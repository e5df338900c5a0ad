package extract

import (
	"bytes"
	"context"
	"unicode/utf8"
)

// extractTXT accepts UTF-8 text as-is and falls back to a Latin-1 decode for
// legacy files; the declared format guarantees we never reject a text upload
// for encoding reasons alone.
func extractTXT(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	if utf8.Valid(data) {
		return string(data), nil
	}

	// Latin-1: every byte maps to the code point of the same value.
	runes := make([]rune, 0, len(data))
	for _, b := range data {
		runes = append(runes, rune(b))
	}
	return string(runes), nil
}
