package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pipefire/internal/header"
)

// Attribute keys set on request spans.
const (
	AttrMethod       = attribute.Key("http.request.method")
	AttrURL          = attribute.Key("url.full")
	AttrScenario     = attribute.Key("pipefire.scenario")
	AttrStatusCode   = attribute.Key("http.response.status_code")
	AttrBodyBytes    = attribute.Key("http.response.body.size")
	AttrConnectionID = attribute.Key("pipefire.connection.id")
)

// StartRequestSpan starts a client span for one request of a scenario.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, target, scenario string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		AttrMethod.String(method),
		AttrURL.String(target),
	)
	if scenario != "" {
		span.SetAttributes(AttrScenario.String(scenario))
	}
	return ctx, span
}

// ResponseAttributes describes a response on a span. A zero status is omitted.
func ResponseAttributes(status int, bodyBytes int64, connID string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if status > 0 {
		attrs = append(attrs, AttrStatusCode.Int(status))
	}
	attrs = append(attrs, AttrBodyBytes.Int64(bodyBytes))
	if connID != "" {
		attrs = append(attrs, AttrConnectionID.String(connID))
	}
	return attrs
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// HeaderCarrier adapts an ordered header list to the OTel TextMapCarrier interface.
// Set replaces the first header with the same name or appends a new one.
type HeaderCarrier struct {
	Headers *[]header.Header
}

func (c HeaderCarrier) Get(key string) string {
	v, _ := header.Get(*c.Headers, key)
	return v
}

func (c HeaderCarrier) Set(key, value string) {
	for i, h := range *c.Headers {
		if h.Is(key) {
			(*c.Headers)[i].Value = value
			return
		}
	}
	*c.Headers = append(*c.Headers, header.Header{Name: key, Value: value})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, strings.ToLower(h.Name))
	}
	return keys
}

// InjectHeaders returns a copy of headers carrying the trace context of ctx. The input
// slice is never modified.
func InjectHeaders(ctx context.Context, headers []header.Header) []header.Header {
	out := append(make([]header.Header, 0, len(headers)+2), headers...)
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Headers: &out})
	return out
}
