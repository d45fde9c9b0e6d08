// Package roomkey derives the canonical signaling room for a pair of identities.
package roomkey

import "strings"

// Separator joins the two sorted identities of a room key.
const Separator = "-"

// Key returns the room key for the unordered pair {a, b}.
// Both participants compute the same key without coordinating.
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Counterpart returns the other identity in a key built by Key.
func Counterpart(key, self string) (string, bool) {
	if rest, ok := strings.CutPrefix(key, self+Separator); ok && Key(self, rest) == key {
		return rest, true
	}
	if rest, ok := strings.CutSuffix(key, Separator+self); ok && Key(self, rest) == key {
		return rest, true
	}
	return "", false
}
