// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

// SampleKind tells whether a sample asserts or retracts the value at a key.
type SampleKind uint8

const (
	// Put is the protocol default kind and is never written into metadata.
	Put SampleKind = iota
	Delete
)

func (k SampleKind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Sample is one publication event as seen by a subscriber.
type Sample struct {
	KeyExpr   string
	Value     Value
	Kind      SampleKind
	Timestamp *Timestamp
	// Local is set for samples published by this process.
	Local bool
}

// NewSample rebuilds a sample from routed data, filling omitted metadata
// fields with their defaults.
func NewSample(key string, info *DataInfo, payload *Buffer, local bool) Sample {
	return Sample{
		KeyExpr: key,
		Value: Value{
			Payload:  payload,
			Encoding: info.ValueEncoding(),
		},
		Kind:      info.SampleKind(),
		Timestamp: info.GetTimestamp(),
		Local:     local,
	}
}
