// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "github.com/google/uuid"

// DataInfo is the optional per-sample metadata carried next to a payload.
// Every field is optional; a field equal to its protocol default is left
// unset so it costs nothing on the wire.
type DataInfo struct {
	Kind      *SampleKind
	Encoding  *Encoding
	Timestamp *Timestamp

	// Extension options.
	SourceID *uuid.UUID
	SourceSN *uint64
}

// NewDataInfo builds the metadata for a sample. kind and encoding are recorded
// only when they differ from Put and DefaultEncoding; ts is recorded when
// non-nil.
func NewDataInfo(kind SampleKind, encoding Encoding, ts *Timestamp) *DataInfo {
	info := &DataInfo{Timestamp: ts}
	if kind != Put {
		k := kind
		info.Kind = &k
	}
	if !encoding.IsDefault() {
		e := encoding
		info.Encoding = &e
	}
	return info
}

// HasOptions reports whether any of kind, encoding or the extension options is
// set. The timestamp is not an option.
func (d *DataInfo) HasOptions() bool {
	if d == nil {
		return false
	}
	return d.Kind != nil || d.Encoding != nil || d.SourceID != nil || d.SourceSN != nil
}

// Emit returns d when it carries anything, nil otherwise. A minted timestamp
// alone is enough to emit the metadata.
func (d *DataInfo) Emit() *DataInfo {
	if d == nil || (!d.HasOptions() && d.Timestamp == nil) {
		return nil
	}
	return d
}

// SampleKind returns the recorded kind, or Put when omitted.
func (d *DataInfo) SampleKind() SampleKind {
	if d == nil || d.Kind == nil {
		return Put
	}
	return *d.Kind
}

// ValueEncoding returns the recorded encoding, or DefaultEncoding when omitted.
func (d *DataInfo) ValueEncoding() Encoding {
	if d == nil || d.Encoding == nil {
		return DefaultEncoding
	}
	return *d.Encoding
}

// GetTimestamp returns the timestamp or nil.
func (d *DataInfo) GetTimestamp() *Timestamp {
	if d == nil {
		return nil
	}
	return d.Timestamp
}
