package runner

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestPoissonArrivalNextDelayUsesSampler(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(200)
	delay := ctrl.nextDelay()
	expected := time.Second / 200
	if delay != expected {
		t.Fatalf("expected delay %s, got %s", expected, delay)
	}
}

func TestPoissonArrivalWaitCancelledContext(t *testing.T) {
	ctrl := &poissonArrival{sample: func() float64 { return 1 }}
	ctrl.SetRate(0.000001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Wait(ctx); err == nil {
		t.Fatalf("expected context error when cancelled")
	}
}

func TestNewArrivalController(t *testing.T) {
	tests := []struct {
		name string
		opt  Options
		want string
	}{
		{name: "unpaced", opt: Options{}, want: "none"},
		{name: "uniform", opt: Options{RatePerSecond: 10}, want: "uniform"},
		{name: "poisson", opt: Options{RatePerSecond: 10, ArrivalModel: ArrivalModelPoisson}, want: "poisson"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := tt.opt
			opt.normalize()
			got := "none"
			switch newArrivalController(opt).(type) {
			case *uniformArrival:
				got = "uniform"
			case *poissonArrival:
				got = "poisson"
			}
			if got != tt.want {
				t.Errorf("controller = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUniformArrivalSetRate(t *testing.T) {
	ctrl := &uniformArrival{limiter: rate.NewLimiter(1, 1)}
	ctrl.SetRate(2.5)
	if ctrl.limiter.Limit() != 2.5 || ctrl.limiter.Burst() != 3 {
		t.Errorf("limit/burst = %v/%d, want 2.5/3", ctrl.limiter.Limit(), ctrl.limiter.Burst())
	}
	ctrl.SetRate(0)
	if ctrl.limiter.Limit() != rate.Inf {
		t.Errorf("limit = %v, want Inf", ctrl.limiter.Limit())
	}
}
