package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Exporters accepted by METRICS_EXPORTER
const (
	ExporterScraper = "scraper"
	ExporterGRPC    = "grpc"
	ExporterNone    = "none"
)

// Telemetry owns the meter provider and, for the scraper exporter, the
// HTTP server exposing /metrics
type Telemetry struct {
	server   *http.Server
	Provider *metric.MeterProvider
	meter    api.Meter
}

var (
	once     sync.Once
	instance *Telemetry
)

// InitMetrics installs the global meter provider once per process.
// exporter is "scraper" (Prometheus on port), "grpc" (OTLP, endpoint from
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT) or "none".
func InitMetrics(ctx context.Context, meterName, exporter string, port int) *Telemetry {
	once.Do(func() {
		t := &Telemetry{}
		switch exporter {
		case ExporterScraper:
			slog.Info("Starting metrics with scraper exporter", "port", port)
			t.initScrapeMetrics(meterName, port)
		case ExporterGRPC:
			slog.Info("Starting metrics with grpc exporter")
			t.initGRPCMetrics(ctx, meterName)
		default:
			slog.Info("Metrics export disabled")
			t.meter = otel.Meter(meterName)
		}
		instance = t
	})
	return instance
}

// Meter returns the meter created by InitMetrics
func (t *Telemetry) Meter() api.Meter {
	if t == nil || t.meter == nil {
		return otel.Meter("marketplace-storefront")
	}
	return t.meter
}

func (t *Telemetry) initGRPCMetrics(ctx context.Context, meterName string) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		slog.Error("Creating GRPC exporter", "error", err)
		t.meter = otel.Meter(meterName)
		return
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(exporter)))
	otel.SetMeterProvider(t.Provider)
	t.meter = t.Provider.Meter(meterName)
}

func (t *Telemetry) initScrapeMetrics(meterName string, port int) {
	// The exporter is both an OpenTelemetry reader and a Prometheus collector
	exporter, err := prometheus.New()
	if err != nil {
		slog.Error("Creating HTML scrape exporter", "error", err)
		t.meter = otel.Meter(meterName)
		return
	}

	t.Provider = metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(t.Provider)
	t.meter = t.Provider.Meter(meterName)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go t.serveMetrics()
}

func (t *Telemetry) serveMetrics() {
	slog.Info("Serving metrics", "addr", t.server.Addr+"/metrics")

	if err := t.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("Metrics server stopped")
			return
		}
		slog.Error("Metrics server exited", "error", err)
	}
}

// Shutdown flushes pending metrics and stops the scrape server
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.server != nil {
		_ = t.server.Shutdown(ctx)
		slog.Info("Shutting down metrics server")
	}
	if t.Provider != nil {
		_ = t.Provider.ForceFlush(ctx)
		_ = t.Provider.Shutdown(ctx)
	}
}
