package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StorefrontTelemetry holds the agent's instruments. A nil
// *StorefrontTelemetry is valid and records nothing.
type StorefrontTelemetry struct {
	httpRequests metric.Int64Counter
	httpErrors   metric.Int64Counter
	httpDuration metric.Float64Histogram

	backendRequests metric.Int64Counter
	backendDuration metric.Float64Histogram

	syncRuns     metric.Int64Counter
	syncDuration metric.Float64Histogram
	syncRecords  metric.Int64Gauge

	cartMutations metric.Int64Counter
	checkouts     metric.Int64Counter
}

// HTTPMetrics is what the middleware knows about one served request
type HTTPMetrics struct {
	Method       string
	Endpoint     string
	StatusCode   int
	Duration     time.Duration
	ClientIPType string
}

// NewStorefrontTelemetry creates every instrument on meter
func NewStorefrontTelemetry(meter metric.Meter) (*StorefrontTelemetry, error) {
	t := &StorefrontTelemetry{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.httpRequests, "storefront_http_requests_total", "Requests served by the agent API"},
		{&t.httpErrors, "storefront_http_errors_total", "Agent API requests answered with a 4xx or 5xx status"},
		{&t.backendRequests, "storefront_backend_requests_total", "Requests sent to the marketplace backend"},
		{&t.syncRuns, "storefront_sync_runs_total", "Data synchronization runs"},
		{&t.cartMutations, "storefront_cart_mutations_total", "Cart mutation attempts"},
		{&t.checkouts, "storefront_checkouts_total", "Checkout submissions"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", c.name)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&t.httpDuration, "storefront_http_request_duration_seconds", "Duration of agent API requests"},
		{&t.backendDuration, "storefront_backend_request_duration_seconds", "Duration of marketplace backend requests"},
		{&t.syncDuration, "storefront_sync_duration_seconds", "Duration of data synchronization runs"},
	}
	for _, h := range histograms {
		*h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", h.name)
		}
	}

	t.syncRecords, err = meter.Int64Gauge(
		"storefront_snapshot_records",
		metric.WithDescription("Records held in the last successful snapshot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create storefront_snapshot_records")
	}

	slog.Debug("Storefront telemetry initialized")
	return t, nil
}

// RecordHTTPRequest records one request served by the agent API
func (t *StorefrontTelemetry) RecordHTTPRequest(ctx context.Context, m HTTPMetrics) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", m.Method),
		attribute.String("endpoint", m.Endpoint),
		attribute.Int("status_code", m.StatusCode),
		attribute.String("client_ip_type", m.ClientIPType),
	)

	t.httpRequests.Add(ctx, 1, attrs)
	if m.StatusCode >= 400 {
		t.httpErrors.Add(ctx, 1, attrs)
	}
	t.httpDuration.Record(ctx, m.Duration.Seconds(), attrs)
}

// RecordBackendCall records one request to the marketplace backend.
// status is 0 when no response was received.
func (t *StorefrontTelemetry) RecordBackendCall(ctx context.Context, endpoint string, status int, d time.Duration, err error) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status_code", status),
		attribute.String("result", resultOf(err)),
	)
	t.backendRequests.Add(ctx, 1, attrs)
	t.backendDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSync records one synchronization run started by trigger
func (t *StorefrontTelemetry) RecordSync(ctx context.Context, trigger string, d time.Duration, err error) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("result", resultOf(err)),
		attribute.String("error_type", categorizeError(err)),
	)
	t.syncRuns.Add(ctx, 1, attrs)
	t.syncDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSnapshot records the size of a freshly stored snapshot
func (t *StorefrontTelemetry) RecordSnapshot(ctx context.Context, products, companies, users int) {
	if t == nil {
		return
	}
	t.syncRecords.Record(ctx, int64(products), metric.WithAttributes(attribute.String("kind", "products")))
	t.syncRecords.Record(ctx, int64(companies), metric.WithAttributes(attribute.String("kind", "companies")))
	t.syncRecords.Record(ctx, int64(users), metric.WithAttributes(attribute.String("kind", "users")))
}

// RecordCartMutation records a cart operation and whether it was accepted
func (t *StorefrontTelemetry) RecordCartMutation(ctx context.Context, operation string, accepted bool) {
	if t == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	t.cartMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

// RecordCheckout records one checkout submission
func (t *StorefrontTelemetry) RecordCheckout(ctx context.Context, err error) {
	if t == nil {
		return
	}
	t.checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", resultOf(err)),
		attribute.String("error_type", categorizeError(err)),
	))
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// categorizeError groups similar errors to keep cardinality low
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthenticated"), strings.Contains(msg, "unauthorized"):
		return "unauthorized"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "decode"), strings.Contains(msg, "invalid"):
		return "invalid_response"
	case strings.Contains(msg, "status 5"):
		return "backend_error"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return "unreachable"
	default:
		return "other"
	}
}
