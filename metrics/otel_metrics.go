// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMetrics is the production MetricHandle, backed by a
// go.opentelemetry.io/otel/metric.Meter wrapped into named counters and
// histograms.
type otelMetrics struct {
	checkoutDuration metric.Float64Histogram
	treesFetched     metric.Int64Counter
	blobsFetched     metric.Int64Counter
	parentMismatch   metric.Int64Counter
	channelAttach    metric.Int64Counter
}

var _ MetricHandle = (*otelMetrics)(nil)

// NewOTelMetrics builds the instrument set under meter, failing loudly
// if any instrument can't be registered (a configuration error, not a
// runtime one) by returning the first registration error, wrapped with
// the instrument's name, instead of panicking per call.
func NewOTelMetrics(meter metric.Meter) (MetricHandle, error) {
	checkoutDuration, err := meter.Float64Histogram(
		"scmfuse/checkout_duration_seconds",
		metric.WithDescription("Wall-clock duration of a checkout, by mode and outcome."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: checkout_duration_seconds: %w", err)
	}

	treesFetched, err := meter.Int64Counter(
		"scmfuse/trees_fetched",
		metric.WithDescription("Tree objects fetched from the object store."),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: trees_fetched: %w", err)
	}

	blobsFetched, err := meter.Int64Counter(
		"scmfuse/blobs_fetched",
		metric.WithDescription("Blob objects fetched from the object store."),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: blobs_fetched: %w", err)
	}

	parentMismatch, err := meter.Int64Counter(
		"scmfuse/parent_mismatch_total",
		metric.WithDescription("Diffs aborted because the parent commit moved mid-walk."),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: parent_mismatch_total: %w", err)
	}

	channelAttach, err := meter.Int64Counter(
		"scmfuse/channel_attach_total",
		metric.WithDescription("Kernel channel attach attempts, by protocol and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: channel_attach_total: %w", err)
	}

	return &otelMetrics{
		checkoutDuration: checkoutDuration,
		treesFetched:     treesFetched,
		blobsFetched:     blobsFetched,
		parentMismatch:   parentMismatch,
		channelAttach:    channelAttach,
	}, nil
}

func (m *otelMetrics) CheckoutDuration(ctx context.Context, d time.Duration, mode, outcome string) {
	m.checkoutDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

func (m *otelMetrics) TreesFetched(ctx context.Context, inc int64) {
	m.treesFetched.Add(ctx, inc)
}

func (m *otelMetrics) BlobsFetched(ctx context.Context, inc int64) {
	m.blobsFetched.Add(ctx, inc)
}

func (m *otelMetrics) ParentMismatch(ctx context.Context, inc int64) {
	m.parentMismatch.Add(ctx, inc)
}

func (m *otelMetrics) ChannelAttach(ctx context.Context, protocol, outcome string) {
	m.channelAttach.Add(ctx, 1, metric.WithAttributes(
		attribute.String("protocol", protocol),
		attribute.String("outcome", outcome),
	))
}
