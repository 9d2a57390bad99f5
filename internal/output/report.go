package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/pipefire/internal/metrics"
	"github.com/torosent/pipefire/internal/threshold"
)

// Report is the result of one scenario.
type Report struct {
	RunID       string        `json:"run_id"`
	Scenario    string        `json:"scenario"`
	Target      string        `json:"target"`
	Method      string        `json:"method"`
	Connections int           `json:"connections"`
	Reconnects  int64         `json:"reconnects"`
	FinishedAt  time.Time     `json:"finished_at"`
	Stats       metrics.Stats `json:"stats"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// Passed reports whether every threshold held.
func (r Report) Passed() bool {
	return threshold.Failed(r.Thresholds) == 0
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintf(w, "\n--- %s ---\n", r.Scenario)
	fmt.Fprintf(w, "Target:            %s %s\n", r.Method, r.Target)
	fmt.Fprintf(w, "Connections:       %d (reconnects: %d)\n", r.Connections, r.Reconnects)
	fmt.Fprintf(w, "Total Requests:    %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)
	fmt.Fprintf(w, "Bytes received:    %d\n", stats.BytesReceived)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)
	fmt.Fprintln(w, "\nTime to headers:")
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Headers)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Headers)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Headers)

	if len(stats.StatusBuckets) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		writeStatusBuckets(w, stats.StatusBuckets, "  ")
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		names := make([]string, 0, len(stats.Errors))
		for name := range stats.Errors {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if stats.Errors[names[i]] == stats.Errors[names[j]] {
				return names[i] < names[j]
			}
			return stats.Errors[names[i]] > stats.Errors[names[j]]
		})
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, stats.Errors[name])
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", len(r.Thresholds)-threshold.Failed(r.Thresholds), len(r.Thresholds))
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// AppendJSONReport appends r as a single JSON line to path. Concurrent pipefire
// processes sharing the file serialize on an advisory lock held in path+".lock".
func AppendJSONReport(ctx context.Context, path string, r Report) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	line = append(line, '\n')

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock report file: %s is held by another process", lock.Path())
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	return f.Close()
}

func writeStatusBuckets(w io.Writer, buckets map[string]map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s (%s): %d\n", indent, row.Code, row.Class, row.Count)
	}
}
