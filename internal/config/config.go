package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort     int    `envconfig:"HTTP_PORT" default:"8080"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"discovery.db"`

	// GitHub provider. A static token wins over App credentials; with
	// neither the provider is queried anonymously.
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubAPIURL         string `envconfig:"GITHUB_API_URL"`
	RepoMetaCacheSize    int    `envconfig:"REPO_META_CACHE_SIZE" default:"256"`

	// Search
	SearchPageSize int           `envconfig:"SEARCH_PAGE_SIZE" default:"30"`
	SearchTimeout  time.Duration `envconfig:"SEARCH_TIMEOUT" default:"30s"`

	// Scheduler
	SchedulerTick          time.Duration `envconfig:"SCHEDULER_TICK" default:"60s"`
	SchedulerMaxConcurrent int           `envconfig:"SCHEDULER_MAX_CONCURRENT" default:"8"`
	TrendingLimit          int           `envconfig:"TRENDING_LIMIT" default:"5"`
	CurateTopK             int           `envconfig:"CURATE_TOP_K" default:"3"`
	RunHistoryLimit        int           `envconfig:"RUN_HISTORY_LIMIT" default:"100"` // per agent; 0 keeps everything
	RetentionInterval      time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`

	// Extra agent templates layered over the built-in ones.
	TemplatesPath string `envconfig:"TEMPLATES_PATH"`

	// Management API
	MgmtListenAddr   string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode     string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey       string `envconfig:"MGMT_API_KEY"`
	MgmtOperatorKeys string `envconfig:"MGMT_OPERATOR_KEYS"` // comma-separated
	MgmtReadOnlyKeys string `envconfig:"MGMT_READONLY_KEYS"` // comma-separated
	MgmtRateLimitRPS int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtCORSOrigins  string `envconfig:"MGMT_CORS_ORIGINS"`
	MgmtTLSCert      string `envconfig:"MGMT_TLS_CERT"`
	MgmtTLSKey       string `envconfig:"MGMT_TLS_KEY"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with an optional env prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.MgmtAuthMode {
	case "none", "api-key":
	default:
		return fmt.Errorf("invalid MGMT_AUTH_MODE %q (want none or api-key)", c.MgmtAuthMode)
	}
	if c.MgmtAuthMode == "api-key" && c.MgmtAPIKey == "" && !c.IsDevelopment() {
		return fmt.Errorf("MGMT_API_KEY is required when MGMT_AUTH_MODE=api-key")
	}
	if (c.MgmtTLSCert == "") != (c.MgmtTLSKey == "") {
		return fmt.Errorf("MGMT_TLS_CERT and MGMT_TLS_KEY must be set together")
	}
	if c.GitHubAppID != 0 && (c.GitHubInstallationID == 0 || c.GitHubPrivateKeyPath == "") {
		return fmt.Errorf("GITHUB_APP_ID requires GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY_PATH")
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive, got %s", c.SchedulerTick)
	}
	if c.RunHistoryLimit < 0 {
		return fmt.Errorf("RUN_HISTORY_LIMIT must not be negative, got %d", c.RunHistoryLimit)
	}
	return nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GitHubAppEnabled reports whether GitHub App credentials should be used.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubToken == "" && c.GitHubAppID != 0
}

// CORSOrigins returns the configured origins.
func (c *Config) CORSOrigins() []string { return splitList(c.MgmtCORSOrigins) }

// OperatorKeys returns the API keys granted the operator role.
func (c *Config) OperatorKeys() []string { return splitList(c.MgmtOperatorKeys) }

// ReadOnlyKeys returns the API keys granted the read-only role.
func (c *Config) ReadOnlyKeys() []string { return splitList(c.MgmtReadOnlyKeys) }

// splitList splits a comma-separated value, trimming entries and dropping empties.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
