// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataInfo(t *testing.T) {
	ts := &Timestamp{Time: 42, ID: uuid.New()}

	tests := []struct {
		name         string
		kind         SampleKind
		encoding     Encoding
		ts           *Timestamp
		wantKind     bool
		wantEncoding bool
		wantOptions  bool
		wantEmitted  bool
	}{
		{
			name:        "default put with timestamp",
			kind:        Put,
			encoding:    DefaultEncoding,
			ts:          ts,
			wantEmitted: true,
		},
		{
			name:     "default put without timestamp",
			kind:     Put,
			encoding: DefaultEncoding,
		},
		{
			name:        "delete is always recorded",
			kind:        Delete,
			encoding:    DefaultEncoding,
			wantKind:    true,
			wantOptions: true,
			wantEmitted: true,
		},
		{
			name:         "non-default encoding is recorded",
			kind:         Put,
			encoding:     NewEncoding(AppJSON),
			ts:           ts,
			wantEncoding: true,
			wantOptions:  true,
			wantEmitted:  true,
		},
		{
			name:         "suffix alone makes encoding non-default",
			kind:         Put,
			encoding:     DefaultEncoding.WithSuffix(";v=1"),
			wantEncoding: true,
			wantOptions:  true,
			wantEmitted:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewDataInfo(tt.kind, tt.encoding, tt.ts)
			assert.Equal(t, tt.wantKind, info.Kind != nil)
			assert.Equal(t, tt.wantEncoding, info.Encoding != nil)
			assert.Equal(t, tt.wantOptions, info.HasOptions())
			assert.Equal(t, tt.wantEmitted, info.Emit() != nil)

			// Omitted fields reconstruct to their defaults.
			emitted := info.Emit()
			assert.Equal(t, tt.kind, emitted.SampleKind())
			assert.Equal(t, tt.encoding, emitted.ValueEncoding())
			assert.Equal(t, tt.ts, emitted.GetTimestamp())
		})
	}
}

func TestDataInfo_ExtensionOptions(t *testing.T) {
	info := NewDataInfo(Put, DefaultEncoding, nil)
	require.False(t, info.HasOptions())

	id := uuid.New()
	info.SourceID = &id
	assert.True(t, info.HasOptions())
	assert.Same(t, info, info.Emit())
}

func TestDataInfo_NilDefaults(t *testing.T) {
	var info *DataInfo
	assert.False(t, info.HasOptions())
	assert.Nil(t, info.Emit())
	assert.Equal(t, Put, info.SampleKind())
	assert.Equal(t, DefaultEncoding, info.ValueEncoding())
	assert.Nil(t, info.GetTimestamp())
}

func TestNewSample(t *testing.T) {
	buf := NewBuffer([]byte("v"))
	s := NewSample("a/b", nil, buf, true)

	assert.Equal(t, "a/b", s.KeyExpr)
	assert.Equal(t, Put, s.Kind)
	assert.Equal(t, DefaultEncoding, s.Value.Encoding)
	assert.Same(t, buf, s.Value.Payload)
	assert.True(t, s.Local)
}
