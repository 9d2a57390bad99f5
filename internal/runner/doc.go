// Package runner drives load tests: it hands out request permits at a configured pace
// and runs them on a fixed set of workers.
//
// Each worker owns one [Requester], built by [Options.NewRequester]. A worker that
// wraps its own client therefore keeps its own connection, so the number of workers
// is the number of parallel connections.
//
//	r := runner.New(runner.Options{
//		Connections:   10,
//		TotalRequests: 1000,
//		RatePerSecond: 200,
//		ArrivalModel:  runner.ArrivalModelPoisson,
//		NewRequester: func(worker int) (runner.Requester, error) {
//			return newRequester(), nil
//		},
//	})
//	result, err := r.Run(ctx)
//
// Requesters can be wrapped with [WithRetry] and [WithLogging]. Failures carrying a
// response status are reported as [*HTTPError].
package runner
