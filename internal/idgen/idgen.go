// Package idgen generates the random suffixes used for store temp
// directory names and optimise's temporary hardlink names, wrapping
// google/uuid the same
// way the teacher's internal/uuid package wraps it for request IDs.
package idgen

import "github.com/google/uuid"

// Suffix returns a short random, filesystem-safe token suitable for
// appending to "0install-extract-" / "0install-remove-" temp directory
// prefixes.
func Suffix() string {
	return uuid.Must(uuid.NewV7()).String()
}
