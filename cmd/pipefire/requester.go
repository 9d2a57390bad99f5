package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pipefire/internal/client"
	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/metrics"
	"github.com/torosent/pipefire/internal/runner"
	"github.com/torosent/pipefire/internal/tracing"
	"github.com/torosent/pipefire/internal/wire"
)

const maxLoggedBodyBytes = 1024

// scenarioRequester replays one pre-encoded request over the client owned by a worker.
type scenarioRequester struct {
	client    *client.Client
	base      wire.Request
	encoded   *wire.WireRequest
	collector *metrics.Collector
	tracer    trace.Tracer
	propagate bool
	scenario  string
}

func (r *scenarioRequester) Do(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartRequestSpan(ctx, r.tracer, r.base.Method, r.base.URL.String(), r.scenario)

	req, err := r.wireRequest(ctx)
	if err != nil {
		r.collector.Record(metrics.Sample{Latency: time.Since(start), Err: err})
		tracing.EndSpan(span, err)
		return err
	}

	resp, err := r.client.PerformRequest(ctx, r.base.URL, req)
	if err != nil {
		r.collector.Record(metrics.Sample{Latency: time.Since(start), Err: err})
		tracing.EndSpan(span, err)
		return err
	}
	defer resp.Body.Close()
	headers := time.Since(start)

	var resultErr error
	if resp.Status >= 400 {
		data, readErr := resp.Body.ReadAll(ctx)
		if readErr != nil {
			resultErr = readErr
		} else {
			if len(data) > maxLoggedBodyBytes {
				data = data[:maxLoggedBodyBytes]
			}
			resultErr = &runner.HTTPError{
				StatusCode: resp.Status,
				Body:       strings.TrimSpace(string(data)),
			}
		}
	} else if _, drainErr := resp.Body.Discard(ctx); drainErr != nil {
		resultErr = drainErr
	}

	received := resp.Body.Received()
	r.collector.Record(metrics.Sample{
		Headers: headers,
		Latency: time.Since(start),
		Bytes:   received,
		Status:  resp.Status,
		Err:     resultErr,
	})
	tracing.EndSpan(span, resultErr, tracing.ResponseAttributes(resp.Status, received, resp.ConnID)...)
	return resultErr
}

// wireRequest returns the shared encoding, or a per-request one carrying the trace
// context when propagation is on.
func (r *scenarioRequester) wireRequest(ctx context.Context) (*wire.WireRequest, error) {
	if !r.propagate {
		return r.encoded, nil
	}
	req := r.base
	req.Headers = tracing.InjectHeaders(ctx, r.base.Headers)
	return wire.Encode(req)
}

func (r *scenarioRequester) Close() error {
	return r.client.Close()
}

// failureAttrs adds the response status and error kind to failure log lines.
func failureAttrs(err error) []any {
	attrs := []any{"kind", errs.KindOf(err).String()}
	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) {
		attrs = append(attrs, "status", httpErr.StatusCode)
	}
	return attrs
}
