package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TFGATE_"

// applyEnv applies TFGATE_* environment overrides.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	setString("POLICY_DIR", &cfg.OPA.PolicyDir)
	setString("REGO_VERSION", &cfg.OPA.RegoVersion)
	setString("TIMEZONE", &cfg.Phases.TimeGating.Timezone)
	setString("DRIFT_SOURCE", &cfg.Phases.Drift.Source)
	setString("DRIFT_SNAPSHOT", &cfg.Phases.Drift.SnapshotPath)
	setString("INTENT_MODE", &cfg.Phases.Intent.Mode)
	setString("INTENT_PROVIDER", &cfg.Phases.Intent.Provider)
	setString("INTENT_MODEL", &cfg.Phases.Intent.Model)
	setString("INTENT_ENDPOINT", &cfg.Phases.Intent.Endpoint)
	setString("TERRAFORM_BINARY", &cfg.Terraform.Binary)
	setString("AUDIT_DB", &cfg.Audit.DBPath)
	setString("LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	setString("TRACE_EXPORTER", &cfg.Telemetry.Tracing.Exporter)
	setString("OTLP_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	setString("METRICS_FILE", &cfg.Telemetry.Metrics.TextfilePath)

	bools := []struct {
		key string
		dst *bool
	}{
		{"STRICT_MODE", &cfg.OPA.StrictMode},
		{"WEEKEND_BLOCKING", &cfg.Phases.TimeGating.WeekendBlocking},
		{"DRIFT_ENABLED", &cfg.Phases.Drift.Enabled},
		{"INTENT_REPORT", &cfg.Phases.Intent.GenerateReport},
		{"AUDIT_ENABLED", &cfg.Audit.Enabled},
		{"TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled},
		{"METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled},
	}
	for _, b := range bools {
		v, ok := os.LookupEnv(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.key, err)
		}
		*b.dst = parsed
	}

	if v := os.Getenv(EnvPrefix + "INTENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sINTENT_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Phases.Intent.Timeout = d
	}

	return nil
}
