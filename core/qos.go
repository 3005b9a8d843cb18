// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "fmt"

// CongestionControl is the policy the routing layer applies when an outbound
// queue is full.
type CongestionControl uint8

const (
	// Drop discards the sample when the queue is full.
	Drop CongestionControl = iota
	// Block waits for room in the queue.
	Block
)

// DefaultCongestionControl is used when a publisher does not set one.
const DefaultCongestionControl = Drop

func (c CongestionControl) String() string {
	switch c {
	case Drop:
		return "drop"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParseCongestionControl parses "drop" or "block".
func ParseCongestionControl(s string) (CongestionControl, error) {
	switch s {
	case "drop":
		return Drop, nil
	case "block":
		return Block, nil
	default:
		return Drop, fmt.Errorf("unknown congestion control %q", s)
	}
}

// Priority orders traffic in the routing layer. Lower values are served first.
type Priority uint8

const (
	RealTime Priority = iota + 1
	InteractiveHigh
	InteractiveLow
	DataHigh
	Data
	DataLow
	Background
)

// DefaultPriority is used when a publisher does not set one.
const DefaultPriority = Data

// NumPriorities is the number of priority classes.
const NumPriorities = int(Background)

// Valid reports whether p is one of the defined priority classes.
func (p Priority) Valid() bool {
	return p >= RealTime && p <= Background
}

func (p Priority) String() string {
	switch p {
	case RealTime:
		return "real_time"
	case InteractiveHigh:
		return "interactive_high"
	case InteractiveLow:
		return "interactive_low"
	case DataHigh:
		return "data_high"
	case Data:
		return "data"
	case DataLow:
		return "data_low"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority parses the String form of a priority.
func ParsePriority(s string) (Priority, error) {
	for p := RealTime; p <= Background; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return DefaultPriority, fmt.Errorf("unknown priority %q", s)
}

// Reliability of a channel.
type Reliability uint8

const (
	BestEffort Reliability = iota
	Reliable
)

func (r Reliability) String() string {
	if r == Reliable {
		return "reliable"
	}
	return "best_effort"
}

// Channel is the (priority, reliability) pair a sample is routed on.
type Channel struct {
	Priority    Priority
	Reliability Reliability
}
