// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		valid bool
	}{
		{"sensors/temp", true},
		{"$SYS/broker", true},
		{"a//b", true},
		{"", false},
		{"sensors/+", false},
		{"sensors/#", false},
		{"bad\x00topic", false},
		{"bad\xfftopic", false},
	}

	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if tt.valid {
			assert.NoError(t, err, tt.topic)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTopic, tt.topic)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"sensors/temp", true},
		{"sensors/+/temp", true},
		{"sensors/#", true},
		{"#", true},
		{"+", true},
		{"", false},
		{"sensors/#/temp", false},
		{"sensors/te+mp", false},
		{"sensors/temp#", false},
		{"bad\x00filter", false},
	}

	for _, tt := range tests {
		err := ValidateFilter(tt.filter)
		if tt.valid {
			assert.NoError(t, err, tt.filter)
		} else {
			assert.ErrorIs(t, err, ErrInvalidFilter, tt.filter)
		}
	}
}

func TestFilterKeyExpr(t *testing.T) {
	tests := []struct {
		filter string
		want   string
	}{
		{"sensors/temp", "sensors/temp"},
		{"sensors/+/temp", "sensors/*/temp"},
		{"sensors/#", "sensors/**"},
		{"+/+/#", "*/*/**"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FilterKeyExpr(tt.filter), tt.filter)
	}
}
