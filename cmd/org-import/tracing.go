package main

import (
	"context"

	"github.com/iota-uz/org-import/pkg/configuration"
	"github.com/iota-uz/org-import/pkg/logging"
)

// startTracing installs the OTLP exporter when OTEL_ENABLED is set. The returned func
// flushes pending spans and is always safe to call.
func startTracing(ctx context.Context, conf *configuration.Configuration) func() {
	if !conf.OpenTelemetry.Enabled {
		return func() {}
	}
	return logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
}
