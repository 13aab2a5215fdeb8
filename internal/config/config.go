// Package config loads runtime configuration from .optifix.yaml, OPTIFIX_*
// environment variables and CLI flags bound through viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/remedy"
	"github.com/papapumpkin/optifix/internal/verify"
)

// RemediationConfig holds the remediation service settings.
type RemediationConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Model             string        `mapstructure:"model" validate:"required"`
	APIKeyEnv         string        `mapstructure:"api_key_env"`
	EnvFile           string        `mapstructure:"env_file"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	NetworkRetries    int           `mapstructure:"network_retries" validate:"gte=0,lte=10"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
	Temperature       float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `mapstructure:"max_tokens" validate:"gte=0"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
}

// Config holds all runtime configuration for an optifix invocation.
// Values are populated from .optifix.yaml, OPTIFIX_* env vars, and CLI flags.
type Config struct {
	RulesFile     string              `mapstructure:"rules_file"`
	MaxAttempts   int                 `mapstructure:"max_attempts" validate:"gte=1,lte=3"`
	Acceptance    string              `mapstructure:"acceptance" validate:"oneof=progress strict"`
	BaseRef       string              `mapstructure:"base_ref" validate:"required"`
	BranchPrefix  string              `mapstructure:"branch_prefix" validate:"required"`
	MaxFiles      int                 `mapstructure:"max_files" validate:"gte=0"`
	Workers       int                 `mapstructure:"workers" validate:"gte=0"`
	Exclude       []string            `mapstructure:"exclude"`
	DryRun        bool                `mapstructure:"dry_run"`
	StayOnBranch  bool                `mapstructure:"stay_on_branch"`
	SyntaxCheck   bool                `mapstructure:"syntax_check"`
	Lint          map[string][]string `mapstructure:"lint"`
	GitTimeout    time.Duration       `mapstructure:"git_timeout" validate:"gt=0"`
	LedgerPath    string              `mapstructure:"ledger_path"`
	TelemetryPath string              `mapstructure:"telemetry_path"`
	MetricsFile   string              `mapstructure:"metrics_file"`
	LogLevel      string              `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string              `mapstructure:"log_format" validate:"oneof=text json"`
	Verbose       bool                `mapstructure:"verbose"`
	Remediation   RemediationConfig   `mapstructure:"remediation"`
}

// SetDefaults registers the built-in default of every key on v.
func SetDefaults(v *viper.Viper) {
	rd := remedy.DefaultConfig()
	v.SetDefault("rules_file", "")
	v.SetDefault("max_attempts", 3)
	v.SetDefault("acceptance", string(verify.ModeProgress))
	v.SetDefault("base_ref", "HEAD")
	v.SetDefault("branch_prefix", isolation.DefaultBranchPrefix)
	v.SetDefault("max_files", 100)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("exclude", []string{})
	v.SetDefault("dry_run", false)
	v.SetDefault("stay_on_branch", false)
	v.SetDefault("syntax_check", true)
	v.SetDefault("git_timeout", 30*time.Second)
	v.SetDefault("ledger_path", ".optifix/history.db")
	v.SetDefault("telemetry_path", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("verbose", false)
	v.SetDefault("remediation.base_url", rd.BaseURL)
	v.SetDefault("remediation.model", rd.Model)
	v.SetDefault("remediation.api_key_env", "OPTIFIX_API_KEY")
	v.SetDefault("remediation.env_file", ".env")
	v.SetDefault("remediation.timeout", rd.Timeout)
	v.SetDefault("remediation.network_retries", rd.NetworkRetries)
	v.SetDefault("remediation.backoff_base", rd.BackoffBase)
	v.SetDefault("remediation.max_backoff", rd.MaxBackoff)
	v.SetDefault("remediation.requests_per_minute", 0)
	v.SetDefault("remediation.temperature", float64(rd.Temperature))
	v.SetDefault("remediation.max_tokens", 0)
	v.SetDefault("remediation.system_prompt", "")
}

// Load reads configuration from the global viper instance, applying
// built-in defaults for any values not set by config file, environment, or
// flags, and validates the result.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Acceptance = strings.ToLower(cfg.Acceptance)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, validationErr(err)
	}
	return cfg, nil
}

// validationErr flattens validator field errors into one readable error.
func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		param := ""
		if fe.Param() != "" {
			param = "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v fails %s%s", fe.Namespace(), fe.Value(), fe.Tag(), param))
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
}

// RemedyConfig converts the remediation settings into a client
// configuration. The API key is resolved separately.
func (c Config) RemedyConfig(apiKey string) remedy.Config {
	r := c.Remediation
	return remedy.Config{
		BaseURL:           r.BaseURL,
		Model:             r.Model,
		APIKey:            apiKey,
		Timeout:           r.Timeout,
		NetworkRetries:    r.NetworkRetries,
		BackoffBase:       r.BackoffBase,
		MaxBackoff:        r.MaxBackoff,
		RequestsPerMinute: r.RequestsPerMinute,
		Temperature:       float32(r.Temperature),
		MaxTokens:         r.MaxTokens,
		SystemPrompt:      r.SystemPrompt,
	}
}
