// Package config holds runtime configuration for the backlog synthesizer.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM or embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection (similarity index + checkpoint store)
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// LLM generation
	LLMProvider     Provider `yaml:"llm_provider"`
	LLMModel        string   `yaml:"llm_model"`
	OllamaHost      string   `yaml:"ollama_host"`
	OpenAIAPIKey    string   `yaml:"-"`
	AnthropicAPIKey string   `yaml:"-"`

	// Embeddings
	EmbedProvider  Provider `yaml:"embed_provider"`
	EmbedModel     string   `yaml:"embed_model"`
	EmbedDimension int      `yaml:"embed_dimension"`

	// JIRA
	JiraURL              string `yaml:"jira_url"`
	JiraEmail            string `yaml:"jira_email"`
	JiraToken            string `yaml:"-"`
	JiraProjectKey       string `yaml:"jira_project_key"`
	JiraStoryPointsField string `yaml:"jira_story_points_field"`
	JiraEpicLinkField    string `yaml:"jira_epic_link_field"`

	// Confluence (optional context source)
	ConfluenceURL   string `yaml:"confluence_url"`
	ConfluenceToken string `yaml:"-"`
	ConfluenceSpace string `yaml:"confluence_space"`

	// Audit log
	AuditDBPath string `yaml:"audit_db_path"`

	// Workflow
	GapThreshold float64 `yaml:"gap_threshold"`
	AutoApprove  bool    `yaml:"auto_approve"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "backlog"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "synthesizer"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     Provider(getEnv("BLS_LLM_PROVIDER", string(ProviderAnthropic))),
		LLMModel:        getEnv("BLS_LLM_MODEL", "claude-sonnet-4-5"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),

		EmbedProvider:  Provider(getEnv("BLS_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("BLS_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("BLS_EMBED_DIMENSION", 384),

		JiraURL:              os.Getenv("JIRA_URL"),
		JiraEmail:            os.Getenv("JIRA_EMAIL"),
		JiraToken:            os.Getenv("JIRA_API_TOKEN"),
		JiraProjectKey:       os.Getenv("JIRA_PROJECT_KEY"),
		JiraStoryPointsField: getEnv("JIRA_STORY_POINTS_FIELD", "customfield_10016"),
		JiraEpicLinkField:    getEnv("JIRA_EPIC_LINK_FIELD", "customfield_10014"),

		ConfluenceURL:   os.Getenv("CONFLUENCE_URL"),
		ConfluenceToken: os.Getenv("CONFLUENCE_API_TOKEN"),
		ConfluenceSpace: os.Getenv("CONFLUENCE_SPACE"),

		AuditDBPath: getEnv("BLS_AUDIT_DB", "data/audit.db"),

		GapThreshold: getEnvFloat("BLS_GAP_THRESHOLD", 0.7),
		AutoApprove:  getEnv("BLS_AUTO_APPROVE", "false") == "true",

		LogFile:  getEnv("BLS_LOG_FILE", "data/backlog-synthesizer.log"),
		LogLevel: parseLogLevel(getEnv("BLS_LOG_LEVEL", "INFO")),
	}
}

// LoadFile overlays values from a YAML config file onto cfg.
// Secrets (API tokens) are env-only and never read from the file.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM provider: %s", c.LLMProvider)
	}
	switch c.EmbedProvider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.EmbedProvider)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedDimension)
	}
	if c.GapThreshold <= 0 || c.GapThreshold > 1 {
		return fmt.Errorf("gap threshold must be in (0,1], got %v", c.GapThreshold)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
