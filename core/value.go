// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

// Value is a payload together with its encoding. Values are immutable; copying
// a Value shares the payload buffer.
type Value struct {
	Payload  *Buffer
	Encoding Encoding
}

// NewValue wraps payload with the default encoding. payload is not copied.
func NewValue(payload []byte) Value {
	v := Value{Encoding: DefaultEncoding}
	if payload != nil {
		v.Payload = NewBuffer(payload)
	}
	return v
}

// StringValue returns a text/plain value.
func StringValue(s string) Value {
	return Value{
		Payload:  NewBuffer([]byte(s)),
		Encoding: NewEncoding(TextPlain),
	}
}

// EmptyValue returns a value with no payload and the default encoding.
func EmptyValue() Value {
	return Value{Encoding: DefaultEncoding}
}

// WithEncoding returns a copy of v with the given encoding; the payload is shared.
func (v Value) WithEncoding(e Encoding) Value {
	v.Encoding = e
	return v
}

// Bytes returns the payload bytes.
func (v Value) Bytes() []byte {
	return v.Payload.Bytes()
}
