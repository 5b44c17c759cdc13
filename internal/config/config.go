// Package config provides configuration loading for triaged.
//
// Configuration is read from a YAML file and overridden by TRIAGED_*
// environment variables. Defaults are applied after unmarshaling and the
// result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the complete triaged configuration.
type Config struct {
	Poll          PollConfig          `koanf:"poll"`
	Warehouse     WarehouseConfig     `koanf:"warehouse"`
	Cursor        CursorConfig        `koanf:"cursor"`
	LLM           LLMConfig           `koanf:"llm"`
	Repo          RepoConfig          `koanf:"repo"`
	Policy        PolicyConfig        `koanf:"policy"`
	Remediation   RemediationConfig   `koanf:"remediation"`
	Audit         AuditConfig         `koanf:"audit"`
	Timeouts      TimeoutsConfig      `koanf:"timeouts"`
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// PollConfig controls the orchestrator loop.
type PollConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

// WarehouseConfig points at the SQL log warehouse.
type WarehouseConfig struct {
	Driver           string `koanf:"driver"` // sqlite or duckdb
	DSN              Secret `koanf:"dsn"`
	Table            string `koanf:"table"`
	SourceRootMarker string `koanf:"source_root_marker"`
}

// CursorConfig selects where the fetch watermark is persisted.
type CursorConfig struct {
	Backend string `koanf:"backend"` // badger or memory
	Path    string `koanf:"path"`
	Source  string `koanf:"source"`
}

// LLMConfig configures the diagnosis completion provider.
type LLMConfig struct {
	Provider    string  `koanf:"provider"` // openai, anthropic, ollama, http
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	RateLimit   float64 `koanf:"rate_limit"` // requests per second
	MaxRetries  int     `koanf:"max_retries"`
}

// RepoConfig identifies the target repository and its local working copy.
type RepoConfig struct {
	URL           string `koanf:"url"`
	Path          string `koanf:"path"`
	DefaultBranch string `koanf:"default_branch"`
	Token         Secret `koanf:"token"`
	Owner         string `koanf:"owner"`
	Name          string `koanf:"name"`
	AuthorName    string `koanf:"author_name"`
	AuthorEmail   string `koanf:"author_email"`
	APIBaseURL    string `koanf:"api_base_url"` // GitHub Enterprise; empty for github.com
}

// PolicyConfig lists the protected path rules.
type PolicyConfig struct {
	ProtectedPaths []string `koanf:"protected_paths"`
	File           string   `koanf:"file"`
	Watch          bool     `koanf:"watch"`
}

// RemediationConfig tunes issue and branch naming.
type RemediationConfig struct {
	IssueLabels  []string `koanf:"issue_labels"`
	BranchPrefix string   `koanf:"branch_prefix"`
}

// AuditConfig selects audit backends.
type AuditConfig struct {
	Collection        string   `koanf:"collection"`
	Backends          []string `koanf:"backends"` // badger, file, nats, memory
	BadgerPath        string   `koanf:"badger_path"`
	FilePath          string   `koanf:"file_path"`
	NATSURL           string   `koanf:"nats_url"`
	NATSSubjectPrefix string   `koanf:"nats_subject_prefix"`
}

// TimeoutsConfig bounds each external call.
type TimeoutsConfig struct {
	Fetch   time.Duration `koanf:"fetch"`
	LLM     time.Duration `koanf:"llm"`
	Git     time.Duration `koanf:"git"`
	Tracker time.Duration `koanf:"tracker"`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the subset of logging options exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, console, or empty for auto
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	Endpoint        string  `koanf:"endpoint"`
	ServiceName     string  `koanf:"service_name"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
	ExportLogs      bool    `koanf:"export_logs"`
}

var (
	validProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true, "http": true}
	validDrivers   = map[string]bool{"sqlite": true, "duckdb": true}
	validCursors   = map[string]bool{"badger": true, "memory": true}
	validAudit     = map[string]bool{"badger": true, "file": true, "nats": true, "memory": true}
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return errors.New("poll.interval must be positive")
	}
	if c.Poll.BatchSize < 1 || c.Poll.BatchSize > 1000 {
		return fmt.Errorf("invalid poll.batch_size: %d (must be 1-1000)", c.Poll.BatchSize)
	}
	if !validDrivers[c.Warehouse.Driver] {
		return fmt.Errorf("unsupported warehouse.driver %q", c.Warehouse.Driver)
	}
	if !validCursors[c.Cursor.Backend] {
		return fmt.Errorf("unsupported cursor.backend %q", c.Cursor.Backend)
	}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "http" && c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required for the http provider")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %f", c.LLM.Temperature)
	}
	if c.Repo.DefaultBranch == "" {
		return errors.New("repo.default_branch is required")
	}
	for _, b := range c.Audit.Backends {
		if !validAudit[b] {
			return fmt.Errorf("unsupported audit backend %q", b)
		}
		if b == "nats" && c.Audit.NATSURL == "" {
			return errors.New("audit.nats_url is required for the nats backend")
		}
		if b == "file" && c.Audit.FilePath == "" {
			return errors.New("audit.file_path is required for the file backend")
		}
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

// RepoSlug returns owner/name for log output.
func (c RepoConfig) RepoSlug() string {
	return c.Owner + "/" + c.Name
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated env value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
