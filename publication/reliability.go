// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
)

// ReliabilityPolicy picks the channel reliability for samples on a key.
type ReliabilityPolicy interface {
	Reliability(key keyexpr.KeyExpr) core.Reliability
}

// AlwaysReliable routes every sample on a reliable channel.
type AlwaysReliable struct{}

// Reliability implements ReliabilityPolicy.
func (AlwaysReliable) Reliability(keyexpr.KeyExpr) core.Reliability {
	return core.Reliable
}

// ReliabilityFunc adapts a function to ReliabilityPolicy.
type ReliabilityFunc func(key keyexpr.KeyExpr) core.Reliability

// Reliability implements ReliabilityPolicy.
func (f ReliabilityFunc) Reliability(key keyexpr.KeyExpr) core.Reliability {
	return f(key)
}

// BestEffortOn uses a best-effort channel for keys included in any of the
// given expressions and a reliable channel otherwise.
type BestEffortOn []keyexpr.KeyExpr

// Reliability implements ReliabilityPolicy.
func (b BestEffortOn) Reliability(key keyexpr.KeyExpr) core.Reliability {
	for _, k := range b {
		if k.Includes(key) {
			return core.BestEffort
		}
	}
	return core.Reliable
}
