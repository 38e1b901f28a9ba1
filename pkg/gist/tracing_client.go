package gist

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracingClient struct {
	base   Client
	tracer trace.Tracer
}

// NewTracingClient is a decorator for Client that creates an
// OpenTelemetry trace span for every request against the gists API.
func NewTracingClient(base Client, tracerProvider trace.TracerProvider) Client {
	return &tracingClient{
		base:   base,
		tracer: tracerProvider.Tracer("github.com/ubnt-intrepid/gist-fs/pkg/gist"),
	}
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (c *tracingClient) Fetch(ctx context.Context, gistID string, previous ETag) (*Snapshot, ETag, error) {
	ctxWithTracing, span := c.tracer.Start(ctx, "gist.Client.Fetch", trace.WithAttributes(
		attribute.String("gist_id", gistID),
		attribute.Bool("conditional", previous != ""),
	))
	defer span.End()

	snapshot, etag, err := c.base.Fetch(ctxWithTracing, gistID, previous)
	recordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("modified", snapshot != nil))
		if snapshot != nil {
			span.SetAttributes(attribute.Int("files", len(snapshot.Files)))
		}
	}
	return snapshot, etag, err
}

func (c *tracingClient) FetchRawContent(ctx context.Context, rawURL string) ([]byte, error) {
	ctxWithTracing, span := c.tracer.Start(ctx, "gist.Client.FetchRawContent", trace.WithAttributes(
		attribute.String("raw_url", rawURL),
	))
	defer span.End()

	content, err := c.base.FetchRawContent(ctxWithTracing, rawURL)
	recordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("size_bytes", len(content)))
	}
	return content, err
}
