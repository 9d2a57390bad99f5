package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/torosent/pipefire/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError string
	}{
		{
			name:  "latency percentile",
			input: "latency:p99 < 500",
			want:  Threshold{Metric: "latency", Aggregate: "p99", Operator: "<", Value: 500, Raw: "latency:p99 < 500"},
		},
		{
			name:  "failure rate without spaces",
			input: "failed:rate<=0.01",
			want:  Threshold{Metric: "failed", Aggregate: "rate", Operator: "<=", Value: 0.01, Raw: "failed:rate<=0.01"},
		},
		{
			name:  "headers with surrounding whitespace",
			input: "  headers:p50 > 1.5 ",
			want:  Threshold{Metric: "headers", Aggregate: "p50", Operator: ">", Value: 1.5, Raw: "headers:p50 > 1.5"},
		},
		{name: "empty", input: "", wantError: "empty"},
		{name: "garbage", input: "fast please", wantError: "invalid threshold format"},
		{name: "unknown metric", input: "cpu:avg < 1", wantError: "unsupported metric"},
		{name: "aggregate not offered by metric", input: "headers:max < 1", wantError: "unsupported aggregate"},
		{name: "bad operator", input: "latency:p99 != 1", wantError: "unsupported operator"},
		{name: "bad number", input: "latency:p99 < 1.2.3", wantError: "invalid threshold value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("Parse(%q) error = %v, want %q", tt.input, err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"latency:p99 < 500", "requests:count >= 10"})
	if err != nil || len(got) != 2 {
		t.Fatalf("ParseMultiple() = %v, %v", got, err)
	}

	_, err = ParseMultiple([]string{"latency:p99 < 500", "bogus", "cpu:avg < 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Errorf("error should list every bad entry: %v", err)
	}

	if got, err := ParseMultiple(nil); got != nil || err != nil {
		t.Errorf("ParseMultiple(nil) = %v, %v", got, err)
	}
}

func TestEvaluate(t *testing.T) {
	stats := metrics.Stats{
		Total:          200,
		Failures:       2,
		BytesReceived:  4096,
		RequestsPerSec: 100,
		P99LatencyMs:   120,
		MeanLatencyMs:  40,
		P50HeadersMs:   5,
		Duration:       2 * time.Second,
	}

	tests := []struct {
		raw    string
		actual float64
		pass   bool
	}{
		{"latency:p99 < 150", 120, true},
		{"latency:p99 < 100", 120, false},
		{"latency:avg <= 40", 40, true},
		{"headers:p50 < 10", 5, true},
		{"failed:rate < 0.02", 0.01, true},
		{"failed:count == 2", 2, true},
		{"requests:rate >= 100", 100, true},
		{"requests:count > 500", 200, false},
		{"bytes:count >= 4096", 4096, true},
	}

	var parsed []Threshold
	for _, tt := range tests {
		th, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		parsed = append(parsed, th)
	}

	results := Evaluate(parsed, stats)
	if len(results) != len(tests) {
		t.Fatalf("got %d results, want %d", len(results), len(tests))
	}
	for i, tt := range tests {
		r := results[i]
		if r.Pass != tt.pass || r.Actual != tt.actual {
			t.Errorf("%s: pass=%v actual=%v, want pass=%v actual=%v", tt.raw, r.Pass, r.Actual, tt.pass, tt.actual)
		}
		prefix := "✓"
		if !tt.pass {
			prefix = "✗"
		}
		if !strings.HasPrefix(r.Message, prefix) {
			t.Errorf("%s: message %q should start with %s", tt.raw, r.Message, prefix)
		}
	}
	if got := Failed(results); got != 2 {
		t.Errorf("Failed() = %d, want 2", got)
	}
}

func TestEvaluateNoRequests(t *testing.T) {
	th, err := Parse("failed:rate < 0.5")
	if err != nil {
		t.Fatal(err)
	}
	results := Evaluate([]Threshold{th}, metrics.Stats{})
	if len(results) != 1 || !results[0].Pass || results[0].Actual != 0 {
		t.Errorf("results = %+v", results)
	}
	if Evaluate(nil, metrics.Stats{}) != nil {
		t.Error("Evaluate(nil) should return nil")
	}
}

func TestEvaluateUnknownThreshold(t *testing.T) {
	results := Evaluate([]Threshold{{Metric: "cpu", Aggregate: "avg", Operator: "<", Raw: "cpu:avg < 1"}}, metrics.Stats{})
	if results[0].Pass || !strings.HasPrefix(results[0].Message, "error:") {
		t.Errorf("result = %+v", results[0])
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual, expected float64
		op               string
		want             bool
	}{
		{1, 2, "<", true},
		{2, 2, "<", false},
		{2, 2, "<=", true},
		{0.1 + 0.2, 0.3, "==", true},
		{3, 2, ">", true},
		{2, 2, ">=", true},
		{1, 1, "!", false},
	}
	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.op, tt.expected); got != tt.want {
			t.Errorf("compareValues(%v %s %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
		}
	}
}
