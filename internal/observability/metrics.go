// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterHubGauges registers the hub's observable gauges. The callbacks read
// hub state only when scraped.
func RegisterHubGauges(queueDepth, activeExperiments func() int) error {
	meter := otel.Meter("bioreactor-hub")

	_, err := meter.Int64ObservableGauge("hub.relay.queue_depth",
		metric.WithDescription("Hardware commands waiting for dispatch"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(queueDepth()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register queue depth gauge: %w", err)
	}

	_, err = meter.Int64ObservableGauge("hub.experiments.active",
		metric.WithDescription("Experiments currently live"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(activeExperiments()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register active experiments gauge: %w", err)
	}
	return nil
}
