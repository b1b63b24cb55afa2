package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// EnvEndpoint overrides the configured OTLP endpoint. When neither the
// env var nor the config endpoint is set, telemetry stays on the no-op
// globals and every Record* call is free.
const EnvEndpoint = "WEFT_OTEL_ENDPOINT"

// Endpoint resolves the collector endpoint: env var first, then the
// configured value.
func Endpoint(configured string) string {
	if ep := os.Getenv(EnvEndpoint); ep != "" {
		return ep
	}
	return configured
}

// Init installs OTLP-backed global metric and log providers pointing at
// endpoint. It returns a shutdown function that flushes both pipelines.
// An empty endpoint is a no-op: the globals stay no-op and shutdown does
// nothing.
func Init(ctx context.Context, instance, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "weft"),
		attribute.String("weft.instance", instance),
	)

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(meterProvider)

	logExp, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(endpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		shutdownErr := meterProvider.Shutdown(ctx)
		return nil, errors.Join(fmt.Errorf("creating log exporter: %w", err), shutdownErr)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)
	global.SetLoggerProvider(loggerProvider)

	// Register instruments against the real provider now that it is
	// installed.
	initInstruments()

	return func(ctx context.Context) error {
		return errors.Join(
			loggerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}, nil
}
