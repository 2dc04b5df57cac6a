package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names, one per batch phase.
const (
	SpanScanDir       = "scan.dir"
	SpanRegistryBuild = "registry.build"
	SpanCleanPlan     = "clean.plan"
	SpanCleanApply    = "clean.apply"
	SpanExportBuild   = "export.build"
	SpanExportPublish = "export.publish"
	SpanVerifyDir     = "verify.dir"
	SpanUpdateChain   = "update.chain"
	SpanSignFile      = "sign.file"
	SpanFetchChain    = "fetch.chain"
)

// Span attribute keys.
const (
	AttrChain    = "asset.chain"
	AttrFile     = "asset.file"
	AttrVersion  = "asset.version"
	AttrDir      = "scan.dir"
	AttrCount    = "result.count"
	AttrWarnings = "result.warnings"
	AttrEndpoint = "fetch.endpoint"
	AttrRunID    = "run.id"

	AttrErrorMessage = "error.message"
)

const instrumentationName = "github.com/zjrosen/metaportal"

// Start opens a span on the globally installed provider. Callers must End it,
// usually through Finish.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// Finish records err on span, if any, and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
