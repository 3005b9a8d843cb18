// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package keyexpr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"a", true},
		{"a/b/c", true},
		{"demo/*/temp", true},
		{"demo/**", true},
		{"**/end", true},
		{"a/**/b/**", true},
		{"", false},
		{"/a", false},
		{"a/", false},
		{"a//b", false},
		{"a/#", false},
		{"a/b?", false},
		{"a/**/**", false},
		{"a/b*", false},
		{"a/***", false},
		{"a/\x00", false},
		{string([]byte{0xff, 0xfe}), false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := Validate(tt.key)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestNew(t *testing.T) {
	k, err := New("test/key")
	require.NoError(t, err)
	assert.Equal(t, "test/key", k.String())
	assert.False(t, k.IsWild())
	assert.False(t, k.IsZero())
	assert.Equal(t, []string{"test", "key"}, k.Chunks())

	j, err := k.Join("sub")
	require.NoError(t, err)
	assert.Equal(t, "test/key/sub", j.String())

	_, err = New("bad//key")
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Panics(t, func() { MustNew("") })
	assert.True(t, KeyExpr{}.IsZero())
}

func TestIntersects(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/*", "a/b", true},
		{"a/*", "a/b/c", false},
		{"a/**", "a", true},
		{"a/**", "a/b/c", true},
		{"**", "x/y/z", true},
		{"a/*/c", "a/b/*", true},
		{"a/**/c", "a/b/x/c", true},
		{"a/**/c", "a/b/x/d", false},
		{"*/b", "a/**", true},
		{"a/*", "b/**", false},
		{"**/z", "a/**", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Intersects(tt.a, tt.b), "Intersects(%q, %q)", tt.a, tt.b)
		assert.Equal(t, tt.want, Intersects(tt.b, tt.a), "Intersects(%q, %q)", tt.b, tt.a)
	}
}

func TestIncludes(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a/b", "a/b", true},
		{"a/*", "a/b", true},
		{"a/b", "a/*", false},
		{"a/**", "a/*/c", true},
		{"a/**", "a", true},
		{"a/*", "a/**", false},
		{"**", "a/**", true},
		{"a/**/c", "a/b/c", true},
		{"a/**/c", "a/b/d", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Includes(tt.a, tt.b), "Includes(%q, %q)", tt.a, tt.b)
	}

	k := MustNew("demo/**")
	assert.True(t, k.Includes(MustNew("demo/x/y")))
	assert.True(t, k.Intersects(MustNew("*/x")))
}
