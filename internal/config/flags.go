package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pipefire [scenario-path]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "f", "", "Path to the scenario file, or a directory containing "+DefaultScenarioFile)

	// Connection flags
	flags.Duration("idle-timeout", 10*time.Second, "Max silence while waiting for response headers (0 disables)")
	flags.Duration("body-idle-timeout", 0, "Max silence while draining a response body (0 means unbounded)")
	flags.Duration("dial-timeout", 30*time.Second, "TCP connect timeout")
	flags.Bool("insecure", true, "Skip TLS certificate verification")
	flags.Int("retries", 0, "Number of retries per request on top of the automatic reconnect")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	flags.Bool("log-errors", false, "Log each failed request to stderr")
	flags.String("report-file", "", "Append one JSON report line per scenario to this file")
	flags.Bool("progress", false, "Print live progress to stderr while a scenario runs")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint; tracing is disabled when empty")
	flags.String("tracing-protocol", string(TracingProtocolGRPC), "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of requests to trace (0..1)")
	flags.String("tracing-service-name", "pipefire", "Service name reported with spans")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context headers into requests")
}
