package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PIPEFIRE_IDLE_TIMEOUT=5s.
const EnvPrefix = "PIPEFIRE"

// ErrNoScenarioFile is returned when neither --config nor a positional path is given.
var ErrNoScenarioFile = errors.New("a scenario file is required (use --help for usage information)")

// Load resolves the configuration from parsed flags, PIPEFIRE_* environment
// variables and the scenario file. Flags explicitly set on the command line win over
// the environment, which wins over flag defaults. args are the positional arguments;
// the first one is used as the scenario path when --config is not set.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	cfg := &Config{
		ConfigFile:      strings.TrimSpace(v.GetString("config")),
		IdleTimeout:     v.GetDuration("idle-timeout"),
		BodyIdleTimeout: v.GetDuration("body-idle-timeout"),
		DialTimeout:     v.GetDuration("dial-timeout"),
		Insecure:        v.GetBool("insecure"),
		Retries:         v.GetInt("retries"),
		JSONOutput:      v.GetBool("json-output"),
		LogLevel:        v.GetString("log-level"),
		LogErrors:       v.GetBool("log-errors"),
		ReportFile:      strings.TrimSpace(v.GetString("report-file")),
		Progress:        v.GetBool("progress"),
		Tracing: TracingConfig{
			Endpoint:    strings.TrimSpace(v.GetString("tracing-endpoint")),
			Protocol:    TracingProtocol(strings.ToLower(strings.TrimSpace(v.GetString("tracing-protocol")))),
			Insecure:    v.GetBool("tracing-insecure"),
			SampleRate:  v.GetFloat64("tracing-sample-rate"),
			ServiceName: v.GetString("tracing-service-name"),
			Propagate:   v.GetBool("tracing-propagate"),
		},
	}

	if cfg.ConfigFile == "" && len(args) > 0 {
		cfg.ConfigFile = strings.TrimSpace(args[0])
	}
	if cfg.ConfigFile == "" {
		return nil, ErrNoScenarioFile
	}

	scenarios, bodyDir, err := LoadScenarios(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	for i := range scenarios {
		normalizeScenario(&scenarios[i])
	}
	cfg.Scenarios = scenarios
	cfg.BodyDir = bodyDir

	return cfg, nil
}

func normalizeScenario(sc *Scenario) {
	sc.Name = strings.TrimSpace(sc.Name)
	sc.Request.Query = strings.TrimSpace(sc.Request.Query)
	sc.Request.Method = strings.ToUpper(strings.TrimSpace(sc.Request.Method))
	if sc.Request.Method == "" {
		sc.Request.Method = "GET"
	}
	sc.Request.BodyFile = strings.TrimSpace(sc.Request.BodyFile)
	sc.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(string(sc.Arrival))))
	if sc.Arrival == "" {
		sc.Arrival = ArrivalModelUniform
	}
}
