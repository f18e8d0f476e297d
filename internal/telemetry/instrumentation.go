package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low-cardinality: operation and component names only.
// URLs, file names and hashes go to logs, which carry the trace id.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span tagged with component and outcome.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}

// InstrumentDownload wraps one download attempt. fn reports the outcome label
// and stored bytes.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) (string, int64)) string {
	if t == nil {
		status, _ := fn(ctx)

		return status
	}

	start := time.Now()

	t.AddActiveDownloads(ctx, 1)
	defer t.AddActiveDownloads(ctx, -1)

	ctx, span := t.StartSpan(ctx, "download")
	defer span.End()

	span.SetAttributes(attribute.String("component", "downloader"))

	status, bytes := fn(ctx)

	span.SetAttributes(attribute.String("status", status))

	if status == StatusFailed {
		span.SetStatus(codes.Error, "download failed")
	}

	t.RecordDownload(ctx, status, time.Since(start), bytes)

	return status
}
