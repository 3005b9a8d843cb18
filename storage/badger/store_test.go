// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"bytes"
	"context"
	"testing"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/storage"
	"github.com/absmach/fluxpub/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	testutil.RunStoreTests(t, func(t *testing.T) storage.Store {
		return setupStore(t, Config{InMemory: true})
	})
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	large := bytes.Repeat([]byte("reading;"), 100)

	s, err := New(Config{Dir: dir, Compression: codec.CompressionZstd})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, storage.Entry{
		KeyExpr:  "sensors/log",
		Payload:  large,
		Encoding: core.NewEncoding(core.TextCSV),
	}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	reopened := setupStore(t, Config{Dir: dir})
	got, err := reopened.Get(ctx, "sensors/log")
	require.NoError(t, err)
	assert.Equal(t, large, got.Payload)
	assert.Equal(t, core.NewEncoding(core.TextCSV), got.Encoding)
	assert.Nil(t, got.Timestamp)
}
