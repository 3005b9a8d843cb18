// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package keyexpr

import "strings"

// Intersects reports whether a and b share at least one concrete key.
// Both arguments are assumed valid.
//   - "*" matches exactly one chunk.
//   - "**" matches zero or more chunks.
func Intersects(a, b string) bool {
	if a == b {
		return true
	}
	return intersects(strings.Split(a, Separator), strings.Split(b, Separator))
}

func intersects(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) == 0:
		return allMulti(b)
	case len(b) == 0:
		return allMulti(a)
	}

	if a[0] == Multi {
		return intersects(a[1:], b) || intersects(a, b[1:])
	}
	if b[0] == Multi {
		return intersects(a, b[1:]) || intersects(a[1:], b)
	}
	return ChunkIntersects(a[0], b[0]) && intersects(a[1:], b[1:])
}

// Includes reports whether every key matched by b is matched by a.
func Includes(a, b string) bool {
	if a == b {
		return true
	}
	return includes(strings.Split(a, Separator), strings.Split(b, Separator))
}

func includes(a, b []string) bool {
	switch {
	case len(a) == 0:
		return len(b) == 0
	case len(b) == 0:
		return allMulti(a)
	}

	switch {
	case a[0] == Multi:
		return includes(a[1:], b) || includes(a, b[1:])
	case b[0] == Multi:
		return false
	case a[0] == Single || a[0] == b[0]:
		return includes(a[1:], b[1:])
	default:
		return false
	}
}

// ChunkIntersects reports whether two single chunks (neither of them "**")
// can match the same chunk.
func ChunkIntersects(a, b string) bool {
	return a == Single || b == Single || a == b
}

func allMulti(chunks []string) bool {
	for _, c := range chunks {
		if c != Multi {
			return false
		}
	}
	return true
}
