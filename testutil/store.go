// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"testing"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreTests runs the behaviour every storage.Store must share against
// stores created by newStore.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()
	id := uuid.New()
	stamp := func(n uint64) *core.Timestamp {
		return &core.Timestamp{Time: core.NTP64(n), ID: id}
	}

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		e := storage.Entry{
			KeyExpr:   "sensors/temp",
			Payload:   []byte("21.5"),
			Encoding:  core.NewEncoding(core.AppFloat),
			Timestamp: stamp(1),
		}
		require.NoError(t, s.Put(ctx, e))

		got, err := s.Get(ctx, "sensors/temp")
		require.NoError(t, err)
		assert.Equal(t, e, got)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("last writer wins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: "k", Payload: []byte("new"), Timestamp: stamp(10)}))
		require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: "k", Payload: []byte("old"), Timestamp: stamp(5)}))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got.Payload)

		require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: "k", Payload: []byte("untimed")}))
		got, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("untimed"), got.Payload)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: "k", Payload: []byte("v"), Timestamp: stamp(10)}))

		require.NoError(t, s.Delete(ctx, "k", stamp(5)))
		_, err := s.Get(ctx, "k")
		require.NoError(t, err, "stale delete must not remove a newer value")

		require.NoError(t, s.Delete(ctx, "k", stamp(11)))
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.Delete(ctx, "never-stored", nil))
	})

	t.Run("match", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"a/b/c", "a/b", "a/x/c", "b/c"} {
			require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: key, Payload: []byte(key)}))
		}

		tests := []struct {
			filter string
			want   []string
		}{
			{"a/**", []string{"a/b", "a/b/c", "a/x/c"}},
			{"a/*/c", []string{"a/b/c", "a/x/c"}},
			{"a/b", []string{"a/b"}},
			{"**/c", []string{"a/b/c", "a/x/c", "b/c"}},
			{"z/**", nil},
		}
		for _, tt := range tests {
			got, err := s.Match(ctx, keyexpr.MustNew(tt.filter))
			require.NoError(t, err)

			var keys []string
			for _, e := range got {
				keys = append(keys, e.KeyExpr)
				assert.Equal(t, []byte(e.KeyExpr), e.Payload)
			}
			assert.Equal(t, tt.want, keys, tt.filter)
		}
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		s := newStore(t)
		payload := []byte("abc")
		require.NoError(t, s.Put(ctx, storage.Entry{KeyExpr: "k", Payload: payload}))
		payload[0] = 'X'

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got.Payload)
	})
}
