package apperrors

import (
	"errors"
	"unicode/utf8"
)

// maxCloseReasonBytes is the WebSocket close-reason byte limit
// (RFC 6455 §5.5.1 allows a control frame payload of 125 bytes, 2 of
// which are consumed by the status code, leaving 123 for the reason).
const maxCloseReasonBytes = 123

const truncationSuffix = "..."

// CloseReason derives the close-frame reason for err. In production
// mode, internal-category errors and errors that are not a
// *TransportError are replaced with the literal "Internal server
// error" so the underlying cause never reaches the client; everything
// else is forwarded, truncated to fit the close-reason byte limit.
func CloseReason(err error, production bool) string {
	var te *TransportError
	if errors.As(err, &te) {
		if production && te.Category == CategoryInternal {
			return "Internal server error"
		}
		return Truncate(te.Error())
	}
	if production {
		return "Internal server error"
	}
	return Truncate(err.Error())
}

// Truncate clips s to fit within the WebSocket close-reason byte limit,
// appending a "..." fallback suffix when truncation happened. Clipping
// respects UTF-8 rune boundaries so the result is always valid UTF-8.
func Truncate(s string) string {
	if len(s) <= maxCloseReasonBytes {
		return s
	}
	limit := maxCloseReasonBytes - len(truncationSuffix)
	if limit < 0 {
		limit = 0
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationSuffix
}
