package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for tdm-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords,
// connection strings with credentials) must only come from environment
// variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8003"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Metadata store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Dataset store (local tabular files, one directory per dataset version)
	DatasetStore DatasetStoreConfig `yaml:"dataset_store"`

	// Workflow execution settings
	Workflow WorkflowConfig `yaml:"workflow"`

	// Default source database for discovery/subsetting when a request does
	// not carry its own connection string. Secret - env only.
	SourceDatabaseURL string `yaml:"-" env:"SOURCE_DATABASE_URL"`

	// Default provisioning target. Secret - env only.
	TargetDatabaseURL string `yaml:"-" env:"TARGET_DATABASE_URL"`
}

// DatabaseConfig holds PostgreSQL metadata store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"tdm"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"tdm_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// DatasetStoreConfig holds settings for the local dataset store.
type DatasetStoreConfig struct {
	// Path is the base directory; each dataset version gets a subdirectory.
	Path string `yaml:"path" env:"DATASET_STORE_PATH" env-default:"datasets"`
}

// WorkflowConfig holds workflow execution settings.
type WorkflowConfig struct {
	// DefaultMaxRowsPerTable caps subset extraction per table when the
	// request does not override it.
	DefaultMaxRowsPerTable int `yaml:"default_max_rows_per_table" env:"WORKFLOW_DEFAULT_MAX_ROWS_PER_TABLE" env-default:"100000"`
	// ProvisionMaxRetries is the number of additional provisioning attempts
	// after the first failure.
	ProvisionMaxRetries int `yaml:"provision_max_retries" env:"WORKFLOW_PROVISION_MAX_RETRIES" env-default:"2"`
	// QueueSourceConcurrency limits concurrent source-database-bound tasks.
	QueueSourceConcurrency int `yaml:"queue_source_concurrency" env:"WORKFLOW_QUEUE_SOURCE_CONCURRENCY" env-default:"1"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// A missing config.yaml is fine in containerized deployments where
		// everything comes from the environment.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string for the metadata
// store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
