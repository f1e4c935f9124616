package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/contextengine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/intent"
	"github.com/TheBearguy/tf-gatekeeper/pkg/policy"
	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{"tf-gate.yaml", "tf-gate.yml", ".tf-gate.yaml", ".tf-gate.yml"}

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config is the tf-gate configuration file.
type Config struct {
	// Version is the schema version of the file.
	Version int `yaml:"version" validate:"eq=1"`

	// OPA configures the policy phase.
	OPA OPAConfig `yaml:"opa"`

	// BlastRadius configures plan classification.
	BlastRadius BlastRadiusConfig `yaml:"blast_radius"`

	// Phases configures the context and intent phases.
	Phases PhasesConfig `yaml:"phases"`

	// Terraform configures the terraform binary used by plan, apply and drift.
	Terraform TerraformConfig `yaml:"terraform"`

	// Audit configures the local audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// path is the file the config was loaded from, empty for defaults.
	path string
}

// OPAConfig configures policy compilation and evaluation.
type OPAConfig struct {
	// PolicyDir holds the .rego files. When it does not exist the built-in
	// policies are used.
	PolicyDir string `yaml:"policy_dir" validate:"required"`

	// StrictMode makes any deny finding block. When false, deny findings
	// only block a RED plan.
	StrictMode bool `yaml:"strict_mode"`

	// Query is the Rego reference evaluated for findings.
	Query string `yaml:"query" validate:"required"`

	// RegoVersion selects the policy syntax.
	RegoVersion string `yaml:"rego_version" validate:"oneof=v0 v1"`

	CompileTimeout time.Duration `yaml:"compile_timeout" validate:"gt=0"`
	EvalTimeout    time.Duration `yaml:"eval_timeout" validate:"gt=0"`
}

// BlastRadiusConfig configures the classifier.
type BlastRadiusConfig struct {
	Thresholds engine.Thresholds `yaml:"thresholds"`

	// CriticalTypes replaces the built-in critical resource types when set.
	CriticalTypes []string `yaml:"critical_types,omitempty" validate:"omitempty,dive,required"`
}

// PhasesConfig groups per-phase settings.
type PhasesConfig struct {
	TimeGating TimeGatingConfig `yaml:"phase_3_time_gating"`
	Drift      DriftConfig      `yaml:"phase_3_drift"`
	Intent     IntentConfig     `yaml:"phase_4_intent"`
}

// TimeGatingConfig configures temporal risk.
type TimeGatingConfig struct {
	FridayCutoffHour int    `yaml:"friday_cutoff_hour" validate:"min=0,max=23"`
	WeekendBlocking  bool   `yaml:"weekend_blocking"`
	AfterHoursStart  int    `yaml:"after_hours_start" validate:"min=0,max=23"`
	AfterHoursEnd    int    `yaml:"after_hours_end" validate:"min=0,max=23"`
	Timezone         string `yaml:"timezone,omitempty"`
	BaseRisk         string `yaml:"base_risk" validate:"oneof=LOW MEDIUM HIGH CRITICAL"`
}

// DriftConfig configures drift detection.
type DriftConfig struct {
	Enabled bool `yaml:"enabled"`

	// Source is terraform (refresh-only plan) or snapshot (a pre-generated file).
	Source string `yaml:"source" validate:"oneof=terraform snapshot"`

	SnapshotPath   string        `yaml:"snapshot_path,omitempty"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gt=0"`
	ShowTimeout    time.Duration `yaml:"show_timeout" validate:"gt=0"`
}

// IntentConfig configures intent validation.
type IntentConfig struct {
	Mode     string `yaml:"mode" validate:"oneof=none keyword delegated"`
	Provider string `yaml:"provider" validate:"oneof=openai lmstudio ollama"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never appears in the file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	GenerateReport bool          `yaml:"generate_report"`
}

// TerraformConfig configures the terraform binary.
type TerraformConfig struct {
	Binary string `yaml:"binary" validate:"required"`
}

// AuditConfig configures the audit store.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Version: CurrentVersion,
		OPA: OPAConfig{
			PolicyDir:      "policies",
			StrictMode:     true,
			Query:          policy.DefaultQuery,
			RegoVersion:    "v1",
			CompileTimeout: 30 * time.Second,
			EvalTimeout:    30 * time.Second,
		},
		BlastRadius: BlastRadiusConfig{
			Thresholds: engine.DefaultThresholds(),
		},
		Phases: PhasesConfig{
			TimeGating: TimeGatingConfig{
				FridayCutoffHour: 15,
				WeekendBlocking:  true,
				AfterHoursStart:  18,
				AfterHoursEnd:    9,
				BaseRisk:         "LOW",
			},
			Drift: DriftConfig{
				Enabled:        false,
				Source:         "terraform",
				RefreshTimeout: 5 * time.Minute,
				ShowTimeout:    60 * time.Second,
			},
			Intent: IntentConfig{
				Mode:      string(intent.ModeKeyword),
				Provider:  string(intent.ProviderOpenAI),
				APIKeyEnv: "OPENAI_API_KEY",
				Timeout:   30 * time.Second,
			},
		},
		Terraform: TerraformConfig{
			Binary: "terraform",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  filepath.Join(".tf-gate", "audit.db"),
		},
		Telemetry: *tel,
	}
}

// Override mutates a loaded config. Overrides run after the file and the
// environment, so they carry command-line flags.
type Override func(*Config)

// Load builds the effective configuration: defaults, then the config file,
// then TFGATE_* environment variables, then overrides. An empty path uses
// TFGATE_CONFIG or searches upward from the working directory; a missing
// file is not an error when the path was not given explicitly.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("TFGATE_CONFIG"))
		explicit = path != ""
	}
	if !explicit {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = Discover(wd)
	}

	if path != "" {
		if err := loadFromPath(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover returns the first config file found in dir or one of its
// parents, or "" when there is none.
func Discover(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadFromPath(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.path = abs
	cfg.resolvePaths(filepath.Dir(abs))
	return nil
}

// resolvePaths makes relative paths in the file relative to the file's directory.
func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.OPA.PolicyDir)
	resolve(&c.Audit.DBPath)
	resolve(&c.Phases.Drift.SnapshotPath)
	if out := c.Telemetry.Logging.Output; out != "stdout" && out != "stderr" {
		resolve(&c.Telemetry.Logging.Output)
	}
	resolve(&c.Telemetry.Metrics.TextfilePath)
}

// Path returns the file the config was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.path
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	t := c.BlastRadius.Thresholds
	if t.Green < 0 || t.Green > t.Yellow || t.Yellow > t.Red || t.Red <= 0 {
		return fmt.Errorf("invalid config: blast_radius thresholds must satisfy 0 <= green <= yellow <= red and red > 0 (got %d/%d/%d)",
			t.Green, t.Yellow, t.Red)
	}

	if _, err := c.loadLocation(); err != nil {
		return fmt.Errorf("invalid config: phases.phase_3_time_gating.timezone: %w", err)
	}

	drift := c.Phases.Drift
	if drift.Enabled && drift.Source == "snapshot" && drift.SnapshotPath == "" {
		return errors.New("invalid config: phases.phase_3_drift.snapshot_path is required for the snapshot source")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: telemetry: %w", err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) loadLocation() (*time.Location, error) {
	if c.Phases.TimeGating.Timezone == "" {
		return nil, nil
	}
	return time.LoadLocation(c.Phases.TimeGating.Timezone)
}

// Save writes the config to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# tf-gate configuration. See `tf-gate init --help`.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// PolicyOptions returns the policy engine options.
func (c *Config) PolicyOptions() policy.Options {
	return policy.Options{
		Query:          c.OPA.Query,
		RegoVersion:    c.OPA.RegoVersion,
		CompileTimeout: c.OPA.CompileTimeout,
		EvalTimeout:    c.OPA.EvalTimeout,
	}
}

// CriticalTypes returns the configured critical types, or nil for the defaults.
func (c *Config) CriticalTypes() []string {
	if len(c.BlastRadius.CriticalTypes) == 0 {
		return nil
	}
	return c.BlastRadius.CriticalTypes
}

// TemporalOptions returns the temporal risk options.
func (c *Config) TemporalOptions() (contextengine.TemporalOptions, error) {
	tg := c.Phases.TimeGating
	base, err := engine.ParseRiskLevel(tg.BaseRisk)
	if err != nil {
		return contextengine.TemporalOptions{}, err
	}
	loc, err := c.loadLocation()
	if err != nil {
		return contextengine.TemporalOptions{}, err
	}
	return contextengine.TemporalOptions{
		FridayCutoffHour: tg.FridayCutoffHour,
		WeekendBlocking:  tg.WeekendBlocking,
		AfterHoursStart:  tg.AfterHoursStart,
		AfterHoursEnd:    tg.AfterHoursEnd,
		BaseRisk:         base,
		Location:         loc,
	}, nil
}

// IntentMode returns the configured intent mode.
func (c *Config) IntentMode() (intent.Mode, error) {
	return intent.ParseMode(c.Phases.Intent.Mode)
}

// BackendConfig returns the reasoning backend settings, reading the API key
// from the configured environment variable.
func (c *Config) BackendConfig() intent.BackendConfig {
	ic := c.Phases.Intent
	cfg := intent.BackendConfig{
		Provider: intent.Provider(ic.Provider),
		Endpoint: ic.Endpoint,
		Model:    ic.Model,
		Timeout:  ic.Timeout,
	}
	if ic.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(ic.APIKeyEnv)
	}
	return cfg
}
