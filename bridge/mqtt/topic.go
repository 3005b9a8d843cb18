// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidTopic is returned for topic names that cannot be published.
	ErrInvalidTopic = errors.New("invalid mqtt topic name")
	// ErrInvalidFilter is returned for malformed subscription filters.
	ErrInvalidFilter = errors.New("invalid mqtt topic filter")
)

// ValidateTopic checks that topic can be used in a PUBLISH: non-empty, no
// wildcards, valid UTF-8 and no NUL character.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	if !utf8.ValidString(topic) || strings.ContainsRune(topic, 0) {
		return ErrInvalidTopic
	}
	return nil
}

// ValidateFilter checks a subscription filter. '+' must fill a whole level
// and '#' may only appear alone in the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidFilter
	}
	if !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidFilter
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidFilter
		}
	}
	return nil
}

// FilterKeyExpr translates an MQTT filter to the key expression covering the
// same keys: '+' becomes '*' and '#' becomes '**'.
func FilterKeyExpr(filter string) string {
	if !strings.ContainsAny(filter, "+#") {
		return filter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = "**"
		}
	}
	return strings.Join(levels, "/")
}
