package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/pipefire/internal/header"
	"github.com/torosent/pipefire/internal/threshold"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type TracingProtocol string

const (
	TracingProtocolGRPC TracingProtocol = "grpc"
	TracingProtocolHTTP TracingProtocol = "http"
)

// Config is the fully resolved run configuration: the scenarios from the scenario file
// plus the global settings from environment and flags.
type Config struct {
	ConfigFile string
	BodyDir    string // base directory for relative body_file paths
	Scenarios  []Scenario

	IdleTimeout     time.Duration
	BodyIdleTimeout time.Duration
	DialTimeout     time.Duration
	Insecure        bool
	Retries         int
	JSONOutput      bool
	LogLevel        string
	LogErrors       bool
	ReportFile      string
	Progress        bool
	Tracing         TracingConfig
}

// Scenario is one load test: a request replayed Repeats times over MaxConnections
// parallel connections.
type Scenario struct {
	Name           string        `yaml:"name"`
	Request        RequestData   `yaml:"request"`
	Repeats        int           `yaml:"repeats"`
	MaxConnections int           `yaml:"max_connections"`
	Rate           int           `yaml:"rate"`
	Duration       time.Duration `yaml:"duration"`
	Arrival        ArrivalModel  `yaml:"arrival"`
	Thresholds     []string      `yaml:"thresholds"`
}

// RequestData describes the request a scenario replays.
type RequestData struct {
	Query    string  `yaml:"query"`
	Method   string  `yaml:"method"`
	Headers  Headers `yaml:"headers"`
	Body     string  `yaml:"body"`
	BodyFile string  `yaml:"body_file"`
}

// Label returns the scenario name, falling back to its method and query.
func (s Scenario) Label() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	method := s.Request.Method
	if method == "" {
		method = "GET"
	}
	return strings.ToUpper(method) + " " + s.Request.Query
}

type TracingConfig struct {
	Endpoint    string
	Protocol    TracingProtocol
	Insecure    bool
	SampleRate  float64
	ServiceName string
	Propagate   bool // inject W3C traceparent into outgoing requests
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether trace context is injected into requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && t.Propagate
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if len(c.Scenarios) == 0 {
		issues = append(issues, "at least one scenario is required (use --help for usage information)")
	}
	for idx, sc := range c.Scenarios {
		issues = append(issues, validateScenario(idx, sc)...)
	}

	if c.IdleTimeout < 0 {
		issues = append(issues, "idle-timeout must be >= 0")
	}
	if c.BodyIdleTimeout < 0 {
		issues = append(issues, "body-idle-timeout must be >= 0")
	}
	if c.DialTimeout < 0 {
		issues = append(issues, "dial-timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		issues = append(issues, err.Error())
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	for _, sc := range c.Scenarios {
		if sc.MaxConnections > 500 || sc.Rate > 1000 {
			fmt.Fprintf(os.Stderr, "WARNING: scenario %q runs %d connections at %d RPS. Ensure you have authorization to test the target system.\n",
				sc.Label(), sc.MaxConnections, sc.Rate)
		}
	}
	if c.Insecure && hasHTTPS(c.Scenarios) {
		fmt.Fprintln(os.Stderr, "WARNING: TLS certificate verification is DISABLED. Use --insecure=false to verify server certificates.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateScenario(idx int, sc Scenario) []string {
	var issues []string
	prefix := fmt.Sprintf("scenarios[%d]", idx)

	query := strings.TrimSpace(sc.Request.Query)
	if query == "" {
		issues = append(issues, prefix+": request.query is required")
	} else if u, err := url.Parse(query); err != nil {
		issues = append(issues, fmt.Sprintf("%s: request.query: %v", prefix, err))
	} else {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
		default:
			issues = append(issues, fmt.Sprintf("%s: request.query scheme %q is not supported", prefix, u.Scheme))
		}
		if u.Host == "" {
			issues = append(issues, prefix+": request.query has no host")
		}
	}

	if strings.TrimSpace(sc.Request.Body) != "" && strings.TrimSpace(sc.Request.BodyFile) != "" {
		issues = append(issues, prefix+": request.body and request.body_file are mutually exclusive")
	}
	if sc.MaxConnections < 1 {
		issues = append(issues, prefix+": max_connections must be >= 1")
	}
	if sc.Repeats < 0 {
		issues = append(issues, prefix+": repeats must be >= 0")
	}
	if sc.Repeats == 0 && sc.Duration <= 0 {
		issues = append(issues, prefix+": repeats or duration is required")
	}
	if sc.Duration < 0 {
		issues = append(issues, prefix+": duration must be >= 0")
	}
	if sc.Rate < 0 {
		issues = append(issues, prefix+": rate must be >= 0")
	}

	switch sc.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("%s: arrival model %q is not supported", prefix, sc.Arrival))
	}
	if _, err := threshold.ParseMultiple(sc.Thresholds); err != nil {
		issues = append(issues, fmt.Sprintf("%s: %v", prefix, err))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	if !t.Enabled() {
		return nil
	}
	var issues []string
	switch t.Protocol {
	case "", TracingProtocolGRPC, TracingProtocolHTTP:
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing: sample rate must be between 0 and 1")
	}
	return issues
}

func hasHTTPS(scenarios []Scenario) bool {
	for _, sc := range scenarios {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(sc.Request.Query)), "https://") {
			return true
		}
	}
	return false
}

// Headers keeps request headers in file order. The scenario file writes them as a
// mapping; duplicates are allowed.
type Headers []header.Header
