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

// Package metrics is the ambient telemetry surface for a mount process:
// an OpenTelemetry-backed MetricHandle with counters and histograms
// recording checkout outcomes, object-store fetch volume, and channel
// attach results.
package metrics

import (
	"context"
	"time"
)

// MetricHandle is the collaborator components record telemetry through.
// A nil-safe no-op implementation (noopMetrics) lets callers that were
// built without a configured meter skip every call without a nil check.
type MetricHandle interface {
	// CheckoutDuration records one checkout's wall-clock cost, tagged by
	// mode and outcome
	// ("ok", "conflict", "error").
	CheckoutDuration(ctx context.Context, d time.Duration, mode, outcome string)

	// TreesFetched/BlobsFetched accumulate the object-store fetch counts
	// DiffEngine and CheckoutEngine report at the end of a run.
	TreesFetched(ctx context.Context, inc int64)
	BlobsFetched(ctx context.Context, inc int64)

	// ParentMismatch counts ErrOutOfDateParent occurrences, a signal that concurrent checkouts are
	// racing more than expected.
	ParentMismatch(ctx context.Context, inc int64)

	// ChannelAttach records one ChannelAttach attempt, tagged by
	// protocol ("fuse", "nfs", "projection") and outcome ("ok", "error").
	ChannelAttach(ctx context.Context, protocol, outcome string)
}

// noopMetrics implements MetricHandle with empty bodies. Embedding it
// (as fakeMetricHandle in tests does) lets a caller override only the
// methods it cares about.
type noopMetrics struct{}

var _ MetricHandle = noopMetrics{}

func (noopMetrics) CheckoutDuration(context.Context, time.Duration, string, string) {}
func (noopMetrics) TreesFetched(context.Context, int64)                            {}
func (noopMetrics) BlobsFetched(context.Context, int64)                            {}
func (noopMetrics) ParentMismatch(context.Context, int64)                          {}
func (noopMetrics) ChannelAttach(context.Context, string, string)                  {}

// NewNoopMetrics returns a MetricHandle that records nothing, for
// callers (tests, the CLI when telemetry is disabled) with no meter to
// report through.
func NewNoopMetrics() MetricHandle { return noopMetrics{} }

// CaptureCheckoutMetrics records the outcome of one checkout.Engine.Run
// call, folding its fetch counts into the handle's two fetch counters.
func CaptureCheckoutMetrics(ctx context.Context, mh MetricHandle, mode string, d time.Duration, outcome string, treesFetched, blobsFetched int64) {
	mh.CheckoutDuration(ctx, d, mode, outcome)
	if treesFetched > 0 {
		mh.TreesFetched(ctx, treesFetched)
	}
	if blobsFetched > 0 {
		mh.BlobsFetched(ctx, blobsFetched)
	}
}
