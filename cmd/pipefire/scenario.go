package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pipefire/internal/client"
	"github.com/torosent/pipefire/internal/config"
	"github.com/torosent/pipefire/internal/conn"
	"github.com/torosent/pipefire/internal/metrics"
	"github.com/torosent/pipefire/internal/output"
	"github.com/torosent/pipefire/internal/runner"
	"github.com/torosent/pipefire/internal/threshold"
	"github.com/torosent/pipefire/internal/wire"
)

// scenarioRun executes one scenario: one client, and thus one connection, per worker.
type scenarioRun struct {
	cfg       *config.Config
	scenario  config.Scenario
	runID     string
	logger    *slog.Logger
	tracer    trace.Tracer
	propagate bool
	stderr    io.Writer

	mu      sync.Mutex
	clients []*client.Client
}

func (s *scenarioRun) execute(ctx context.Context) (output.Report, error) {
	sc := s.scenario
	body, err := wire.NewBodySource(sc.Request.Body, sc.Request.BodyFile, s.cfg.BodyDir)
	if err != nil {
		return output.Report{}, err
	}
	builder, err := wire.NewBuilder(sc.Request.Method, sc.Request.Query, sc.Request.Headers, body)
	if err != nil {
		return output.Report{}, err
	}
	base, err := builder.Request()
	if err != nil {
		return output.Report{}, err
	}
	encoded, err := wire.Encode(base)
	if err != nil {
		return output.Report{}, err
	}
	thresholds, err := threshold.ParseMultiple(sc.Thresholds)
	if err != nil {
		return output.Report{}, err
	}

	collector := metrics.NewCollector()
	connOpts := s.connOptions()

	newRequester := func(worker int) (runner.Requester, error) {
		cl := client.New(
			client.WithConnOptions(connOpts),
			client.WithLogger(s.logger.With("worker", worker)),
		)
		s.mu.Lock()
		s.clients = append(s.clients, cl)
		s.mu.Unlock()

		var req runner.Requester = &scenarioRequester{
			client:    cl,
			base:      base,
			encoded:   encoded,
			collector: collector,
			tracer:    s.tracer,
			propagate: s.propagate,
			scenario:  sc.Label(),
		}
		if s.cfg.Retries > 0 {
			req = runner.WithRetry(req, newRetryPolicy(s.cfg.Retries))
		}
		if s.cfg.LogErrors {
			req = runner.WithLogging(req, s.logger, failureAttrs)
		}
		return req, nil
	}

	r := runner.New(runner.Options{
		Connections:   sc.MaxConnections,
		TotalRequests: sc.Repeats,
		Duration:      sc.Duration,
		RatePerSecond: sc.Rate,
		ArrivalModel:  toRunnerArrivalModel(sc.Arrival),
		NewRequester:  newRequester,
	})

	var progress *output.ProgressReporter
	if s.cfg.Progress && !s.cfg.JSONOutput {
		progress = output.NewProgressReporter(collector, sc.Label(), progressInterval, s.stderr)
		progress.Start()
	}

	s.logger.Info("scenario started", "target", sc.Request.Query, "connections", sc.MaxConnections, "repeats", sc.Repeats)
	collector.Start()
	result, err := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return output.Report{}, err
	}
	s.logger.Info("scenario finished", "total", result.Total, "errors", result.Errors, "duration", result.Duration)

	stats := collector.Stats(result.Duration)
	return output.Report{
		RunID:       s.runID,
		Scenario:    sc.Label(),
		Target:      sc.Request.Query,
		Method:      base.Method,
		Connections: sc.MaxConnections,
		Reconnects:  s.reconnects(),
		FinishedAt:  time.Now().UTC(),
		Stats:       stats,
		Thresholds:  threshold.Evaluate(thresholds, stats),
	}, nil
}

func (s *scenarioRun) connOptions() conn.Options {
	opts := conn.DefaultOptions()
	opts.IdleTimeout = s.cfg.IdleTimeout
	opts.BodyIdleTimeout = s.cfg.BodyIdleTimeout
	if s.cfg.DialTimeout > 0 {
		opts.DialTimeout = s.cfg.DialTimeout
	}
	opts.InsecureSkipVerify = s.cfg.Insecure
	opts.Logger = s.logger
	return opts
}

func (s *scenarioRun) reconnects() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, cl := range s.clients {
		n += cl.Reconnects()
	}
	return n
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}
