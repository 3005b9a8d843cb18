// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/publication"
	"github.com/absmach/fluxpub/routing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	_ publication.Metrics = (*Metrics)(nil)
	_ routing.Metrics     = (*Metrics)(nil)
)

// Metrics holds the instruments for publication and routing.
type Metrics struct {
	meter metric.Meter

	writesTotal  metric.Int64Counter
	writeErrors  metric.Int64Counter
	payloadSize  metric.Int64Histogram
	framesSent   metric.Int64Counter
	framesFailed metric.Int64Counter
	framesDrop   metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global provider when
// mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: mp.Meter(InstrumentationName),
	}

	var err error

	m.writesTotal, err = m.meter.Int64Counter(
		"fluxpub.publication.writes.total",
		metric.WithDescription("Total publication writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create writesTotal counter: %w", err)
	}

	m.writeErrors, err = m.meter.Int64Counter(
		"fluxpub.publication.write.errors.total",
		metric.WithDescription("Total publication writes that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create writeErrors counter: %w", err)
	}

	m.payloadSize, err = m.meter.Int64Histogram(
		"fluxpub.publication.payload.size",
		metric.WithDescription("Published payload size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payloadSize histogram: %w", err)
	}

	m.framesSent, err = m.meter.Int64Counter(
		"fluxpub.routing.frames.sent.total",
		metric.WithDescription("Total frames written to faces"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesSent counter: %w", err)
	}

	m.framesFailed, err = m.meter.Int64Counter(
		"fluxpub.routing.frames.failed.total",
		metric.WithDescription("Total frames a face failed to write"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesFailed counter: %w", err)
	}

	m.framesDrop, err = m.meter.Int64Counter(
		"fluxpub.routing.frames.dropped.total",
		metric.WithDescription("Total frames dropped by congestion control"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create framesDrop counter: %w", err)
	}

	return m, nil
}

// RecordWrite records one publication write.
func (m *Metrics) RecordWrite(kind core.SampleKind, payloadSize int, cc core.CongestionControl, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("congestion_control", cc.String()),
	)
	m.writesTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.writeErrors.Add(ctx, 1, attrs)
		return
	}
	m.payloadSize.Record(ctx, int64(payloadSize), attrs)
}

// RecordFrame records the outcome of a face write.
func (m *Metrics) RecordFrame(face string, err error) {
	attrs := metric.WithAttributes(attribute.String("face", face))
	if err != nil {
		m.framesFailed.Add(context.Background(), 1, attrs)
		return
	}
	m.framesSent.Add(context.Background(), 1, attrs)
}

// RecordDrop records a frame dropped before reaching a face.
func (m *Metrics) RecordDrop(face string, priority core.Priority) {
	m.framesDrop.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("face", face),
		attribute.String("priority", priority.String()),
	))
}
