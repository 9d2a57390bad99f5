// Package metrics aggregates request outcomes for a load test run.
//
// A [Collector] is shared by all workers of a scenario. Each finished request is
// recorded as a [Sample]:
//
//	collector := metrics.NewCollector()
//	collector.Record(metrics.Sample{
//		Headers: headersAt.Sub(start),
//		Latency: time.Since(start),
//		Bytes:   resp.Body.Received(),
//		Status:  resp.Status.Code,
//		Err:     err,
//	})
//	stats := collector.Stats(collector.Elapsed())
//
// Latencies are kept in HDR histograms (1µs to 60s, 3 significant figures), so
// [Stats] percentiles are exact to three digits regardless of the number of samples.
// Failures are grouped by [FriendlyErrorName]; response codes by class in
// [Stats.StatusBuckets].
package metrics
