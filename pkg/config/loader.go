package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SLOTPOOL_POOL_CAPACITY.
const EnvPrefix = "SLOTPOOL"

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"name":          "pool.name",
	"capacity":      "pool.capacity",
	"lock-free":     "pool.lock_free",
	"workers":       "workers.count",
	"cycles":        "workers.cycles",
	"hold":          "workers.hold",
	"retry-initial": "workers.retry_initial",
	"retry-max":     "workers.retry_max",
	"max-retries":   "workers.max_retries",
	"log-level":     "logging.level",
	"log-encoding":  "logging.encoding",
	"metrics":       "observability.enable_metrics",
	"metrics-addr":  "observability.metrics_addr",
	"tracing":       "observability.enable_tracing",
	"report":        "report.path",
	"report-codec":  "report.compression",
}

// Load builds the effective configuration. Sources are applied in order of
// increasing precedence: Default, the YAML file at path (skipped when path
// is empty), SLOTPOOL_* environment variables and finally flags that were
// set explicitly. ${VAR} references in the file are expanded before parsing.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filePath string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults registers every key with viper so that environment variables
// are picked up by Unmarshal even when the file does not mention the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("pool.name", d.Pool.Name)
	v.SetDefault("pool.capacity", d.Pool.Capacity)
	v.SetDefault("pool.lock_free", d.Pool.LockFree)

	v.SetDefault("workers.count", d.Workers.Count)
	v.SetDefault("workers.cycles", d.Workers.Cycles)
	v.SetDefault("workers.hold", d.Workers.Hold)
	v.SetDefault("workers.retry_initial", d.Workers.RetryInitial)
	v.SetDefault("workers.retry_max", d.Workers.RetryMax)
	v.SetDefault("workers.max_retries", d.Workers.MaxRetries)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("observability.enable_metrics", d.Observability.EnableMetrics)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.tracing_sample_rate", d.Observability.TracingSampleRate)

	v.SetDefault("report.path", d.Report.Path)
	v.SetDefault("report.compression", d.Report.Compression)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
