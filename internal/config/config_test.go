package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"MaxAttempts", cfg.MaxAttempts, 3},
		{"Acceptance", cfg.Acceptance, "progress"},
		{"BaseRef", cfg.BaseRef, "HEAD"},
		{"BranchPrefix", cfg.BranchPrefix, "optifix"},
		{"MaxFiles", cfg.MaxFiles, 100},
		{"DryRun", cfg.DryRun, false},
		{"SyntaxCheck", cfg.SyntaxCheck, true},
		{"GitTimeout", cfg.GitTimeout, 30 * time.Second},
		{"LedgerPath", cfg.LedgerPath, ".optifix/history.db"},
		{"LogLevel", cfg.LogLevel, "warn"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"Remediation.BaseURL", cfg.Remediation.BaseURL, "http://localhost:11434/v1"},
		{"Remediation.Model", cfg.Remediation.Model, "gpt-oss:latest"},
		{"Remediation.APIKeyEnv", cfg.Remediation.APIKeyEnv, "OPTIFIX_API_KEY"},
		{"Remediation.Timeout", cfg.Remediation.Timeout, 120 * time.Second},
		{"Remediation.NetworkRetries", cfg.Remediation.NetworkRetries, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{"max_attempts", "OPTIFIX_MAX_ATTEMPTS", "2", func(c Config) any { return c.MaxAttempts }, 2},
		{"acceptance", "OPTIFIX_ACCEPTANCE", "STRICT", func(c Config) any { return c.Acceptance }, "strict"},
		{"base_ref", "OPTIFIX_BASE_REF", "main", func(c Config) any { return c.BaseRef }, "main"},
		{"dry_run", "OPTIFIX_DRY_RUN", "true", func(c Config) any { return c.DryRun }, true},
		{"git_timeout", "OPTIFIX_GIT_TIMEOUT", "5s", func(c Config) any { return c.GitTimeout }, 5 * time.Second},
		{"remediation.model", "OPTIFIX_REMEDIATION_MODEL", "qwen2.5-coder", func(c Config) any { return c.Remediation.Model }, "qwen2.5-coder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			t.Setenv(tt.envKey, tt.envVal)
			viper.SetEnvPrefix("OPTIFIX")
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			viper.AutomaticEnv()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := tt.field(cfg); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	resetViper()
	path := filepath.Join(t.TempDir(), ".optifix.yaml")
	content := `
max_attempts: 1
exclude: ["**/testdata/**", "gen/*.py"]
lint:
  python: ["ruff check {file}"]
  go: ["gofmt -l {file}", "go vet {file}"]
remediation:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  backoff_base: 500ms
  requests_per_minute: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxAttempts != 1 || len(cfg.Exclude) != 2 {
		t.Errorf("max_attempts = %d, exclude = %v", cfg.MaxAttempts, cfg.Exclude)
	}
	if len(cfg.Lint["go"]) != 2 || cfg.Lint["python"][0] != "ruff check {file}" {
		t.Errorf("lint = %v", cfg.Lint)
	}

	rc := cfg.RemedyConfig("sk-test")
	if rc.BaseURL != "https://api.openai.com/v1" || rc.Model != "gpt-4o-mini" || rc.APIKey != "sk-test" {
		t.Errorf("remedy config = %+v", rc)
	}
	if rc.BackoffBase != 500*time.Millisecond || rc.RequestsPerMinute != 30 || rc.Timeout != 120*time.Second {
		t.Errorf("remedy config = %+v", rc)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{"attempts above budget", "max_attempts", 4, "MaxAttempts"},
		{"attempts zero", "max_attempts", 0, "MaxAttempts"},
		{"unknown acceptance", "acceptance", "lenient", "Acceptance"},
		{"unknown log level", "log_level", "trace", "LogLevel"},
		{"bad url", "remediation.base_url", "not a url", "BaseURL"},
		{"negative retries", "remediation.network_retries", -1, "NetworkRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			viper.Set(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
