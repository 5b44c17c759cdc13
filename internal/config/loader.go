package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "TRIAGED_"
)

// listKeys are split on commas when supplied through the environment.
var listKeys = map[string]bool{
	"policy.protected_paths":   true,
	"remediation.issue_labels": true,
	"audit.backends":           true,
}

// LoadWithFile loads configuration from a YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (TRIAGED_POLL_INTERVAL, TRIAGED_LLM_API_KEY, etc.)
//  2. YAML config file (~/.config/triaged/config.yaml)
//  3. Hardcoded defaults
//
// If configPath is empty, TRIAGED_CONFIG is consulted, then the default path.
//
// # Security Considerations
//
// The file must have 0600 or 0400 permissions and live in ~/.config/triaged/
// or /etc/triaged/. Files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the remainder is split on the first underscore:
//
//	TRIAGED_POLL_BATCH_SIZE      -> poll.batch_size
//	TRIAGED_LLM_API_KEY          -> llm.api_key
//	TRIAGED_POLICY_PROTECTED_PATHS=".github/,config/secrets" -> policy.protected_paths
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = getEnvString("TRIAGED_CONFIG", filepath.Join(home, ".config", "triaged", "config.yaml"))
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		// Validate the open descriptor rather than the path to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// transformEnv maps TRIAGED_SECTION_FIELD_NAME to section.field_name.
func transformEnv(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if lower == "config" {
		return "", nil
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}
	path := parts[0] + "." + parts[1]
	if listKeys[path] {
		return path, splitList(value)
	}
	return path, value
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Symlinks must not escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "triaged"),
		"/etc/triaged",
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/triaged/ or /etc/triaged/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".triaged")

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 60 * time.Second
	}
	if cfg.Poll.BatchSize == 0 {
		cfg.Poll.BatchSize = 10
	}

	if cfg.Warehouse.Driver == "" {
		cfg.Warehouse.Driver = "sqlite"
	}
	if cfg.Warehouse.Table == "" {
		cfg.Warehouse.Table = "error_logs"
	}
	if cfg.Warehouse.SourceRootMarker == "" {
		cfg.Warehouse.SourceRootMarker = "src/"
	}

	if cfg.Cursor.Backend == "" {
		cfg.Cursor.Backend = "badger"
	}
	if cfg.Cursor.Path == "" {
		cfg.Cursor.Path = filepath.Join(dataDir, "cursor")
	}
	if cfg.Cursor.Source == "" {
		cfg.Cursor.Source = "default"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = "claude-3-5-sonnet-latest"
		case "ollama":
			cfg.LLM.Model = "llama3.1"
		default:
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 1
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Repo.Path == "" {
		cfg.Repo.Path = filepath.Join(dataDir, "workcopy")
	}
	if cfg.Repo.DefaultBranch == "" {
		cfg.Repo.DefaultBranch = "main"
	}
	if cfg.Repo.AuthorName == "" {
		cfg.Repo.AuthorName = "triaged"
	}
	if cfg.Repo.AuthorEmail == "" {
		cfg.Repo.AuthorEmail = "triaged@localhost"
	}

	if cfg.Policy.ProtectedPaths == nil {
		cfg.Policy.ProtectedPaths = []string{".github/", "config/secrets", ".env"}
	}

	if len(cfg.Remediation.IssueLabels) == 0 {
		cfg.Remediation.IssueLabels = []string{"triage"}
	}
	if cfg.Remediation.BranchPrefix == "" {
		cfg.Remediation.BranchPrefix = "triage/"
	}

	if cfg.Audit.Collection == "" {
		cfg.Audit.Collection = "triage_audit"
	}
	if len(cfg.Audit.Backends) == 0 {
		cfg.Audit.Backends = []string{"badger"}
	}
	if cfg.Audit.BadgerPath == "" {
		cfg.Audit.BadgerPath = filepath.Join(dataDir, "audit")
	}
	if cfg.Audit.NATSSubjectPrefix == "" {
		cfg.Audit.NATSSubjectPrefix = "triaged.audit"
	}

	if cfg.Timeouts.Fetch == 0 {
		cfg.Timeouts.Fetch = 30 * time.Second
	}
	if cfg.Timeouts.LLM == 0 {
		cfg.Timeouts.LLM = 120 * time.Second
	}
	if cfg.Timeouts.Git == 0 {
		cfg.Timeouts.Git = 120 * time.Second
	}
	if cfg.Timeouts.Tracker == 0 {
		cfg.Timeouts.Tracker = 30 * time.Second
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9464
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "triaged"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}
