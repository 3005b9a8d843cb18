// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package keyexpr

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Separator splits a key expression into chunks.
	Separator = "/"
	// Single matches exactly one chunk.
	Single = "*"
	// Multi matches zero or more chunks.
	Multi = "**"
)

// ErrInvalid is returned for malformed key expressions.
var ErrInvalid = errors.New("invalid key expression")

// KeyExpr is a validated key expression such as "demo/sensors/*/temp".
type KeyExpr struct {
	s string
}

// New validates s and returns it as a KeyExpr.
func New(s string) (KeyExpr, error) {
	if err := Validate(s); err != nil {
		return KeyExpr{}, err
	}
	return KeyExpr{s: s}, nil
}

// MustNew is New that panics on error. Meant for constants and tests.
func MustNew(s string) KeyExpr {
	k, err := New(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Validate checks the key expression syntax:
//   - non-empty, valid UTF-8, no NUL
//   - no leading or trailing '/', no empty chunk
//   - no '#' or '?' characters
//   - '*' only as a whole chunk "*" or "**", and "**/**" is not allowed
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %q contains illegal characters", ErrInvalid, s)
	}
	if strings.ContainsAny(s, "#?") {
		return fmt.Errorf("%w: %q contains '#' or '?'", ErrInvalid, s)
	}

	prev := ""
	for _, chunk := range strings.Split(s, Separator) {
		switch {
		case chunk == "":
			return fmt.Errorf("%w: %q has an empty chunk", ErrInvalid, s)
		case chunk == Multi && prev == Multi:
			return fmt.Errorf("%w: %q repeats '**'", ErrInvalid, s)
		case chunk != Single && chunk != Multi && strings.Contains(chunk, "*"):
			return fmt.Errorf("%w: %q uses '*' inside a chunk", ErrInvalid, s)
		}
		prev = chunk
	}
	return nil
}

func (k KeyExpr) String() string {
	return k.s
}

// IsZero reports whether k is the zero value (never a valid expression).
func (k KeyExpr) IsZero() bool {
	return k.s == ""
}

// IsWild reports whether k contains a wildcard chunk.
func (k KeyExpr) IsWild() bool {
	return IsWild(k.s)
}

// Chunks splits k on '/'.
func (k KeyExpr) Chunks() []string {
	return strings.Split(k.s, Separator)
}

// Join appends a suffix to k. The result is validated.
func (k KeyExpr) Join(suffix string) (KeyExpr, error) {
	return New(k.s + Separator + suffix)
}

// Intersects reports whether some concrete key matches both k and o.
func (k KeyExpr) Intersects(o KeyExpr) bool {
	return Intersects(k.s, o.s)
}

// Includes reports whether every key matched by o is also matched by k.
func (k KeyExpr) Includes(o KeyExpr) bool {
	return Includes(k.s, o.s)
}

// IsWild reports whether the raw expression contains a wildcard chunk.
func IsWild(s string) bool {
	return strings.Contains(s, Single)
}
