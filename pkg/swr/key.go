package swr

import "strings"

// keySep separates key segments in the canonical encoding. The ASCII
// unit separator never appears in sane segment values, so joined keys
// cannot collide.
const keySep = "\x1f"

// Key identifies a logical collection in a Store. It is a small tuple
// of strings, e.g. Key{"todos"} or Key{"todos", userID}.
type Key []string

// Canonical returns the canonical encoding of the key, suitable for use
// as a map or storage key.
func (k Key) Canonical() string {
	return strings.Join(k, keySep)
}

// String returns a human-readable form of the key for logs and errors.
func (k Key) String() string {
	return "[" + strings.Join(k, ", ") + "]"
}

// Equal reports whether two keys identify the same collection.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the key.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	out := make(Key, len(k))
	copy(out, k)
	return out
}
