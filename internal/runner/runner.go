package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Result captures execution summary.
type Result struct {
	Total    int64
	Errors   int64
	Duration time.Duration
}

// Runner coordinates concurrent execution with rate limiting.
type Runner struct {
	opt     Options
	arrival arrivalController
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, arrival: newArrivalController(opt)}
}

// Run executes until TotalRequests permits have been handed out, Duration elapses or
// ctx is cancelled. Requesters are built before any request is issued; a build
// failure aborts the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	requesters, err := r.buildRequesters()
	if err != nil {
		return Result{}, err
	}
	if r.opt.NewRequester != nil {
		defer closeRequesters(requesters)
	}

	start := time.Now()
	var issued int64 // permits handed to the channel
	var total int64  // requests actually executed
	var errs int64

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	permits := make(chan struct{}, r.opt.Connections)

	// Scheduler: serializes rate limiting to avoid burst overshoot across workers.
	go func() {
		defer close(permits)
		for {
			if ctx.Err() != nil {
				return
			}
			if r.opt.TotalRequests > 0 && issued >= int64(r.opt.TotalRequests) {
				return
			}
			if r.arrival != nil {
				if err := r.arrival.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case permits <- struct{}{}:
				issued++
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(len(requesters))
	for _, req := range requesters {
		go func(req Requester) {
			defer wg.Done()
			for range permits {
				// Permits still buffered when the run ends are dropped uncounted.
				if ctx.Err() != nil {
					return
				}
				atomic.AddInt64(&total, 1)
				if err := req.Do(ctx); err != nil {
					atomic.AddInt64(&errs, 1)
				}
				if ctx.Err() != nil {
					return
				}
			}
		}(req)
	}
	wg.Wait()

	return Result{
		Total:    atomic.LoadInt64(&total),
		Errors:   atomic.LoadInt64(&errs),
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) buildRequesters() ([]Requester, error) {
	requesters := make([]Requester, 0, r.opt.Connections)
	for i := 0; i < r.opt.Connections; i++ {
		var req Requester
		if r.opt.NewRequester != nil {
			built, err := r.opt.NewRequester(i)
			if err != nil {
				closeRequesters(requesters)
				return nil, fmt.Errorf("worker %d: %w", i, err)
			}
			req = built
		} else {
			req = r.opt.Requester
		}
		if req == nil {
			if r.opt.NewRequester != nil {
				closeRequesters(requesters)
			}
			return nil, errors.New("runner: a requester is required")
		}
		requesters = append(requesters, req)
	}
	return requesters, nil
}

// closeRequesters closes per-worker requesters. A shared Requester belongs to the caller.
func closeRequesters(requesters []Requester) {
	for _, req := range requesters {
		if c, ok := req.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
