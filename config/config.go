package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Research  ResearchConfig  `mapstructure:"research"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Email     EmailConfig     `mapstructure:"email"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ResearchConfig controls the shape of a research run.
type ResearchConfig struct {
	// TargetSearchCount is the number of search tasks the planner must produce.
	TargetSearchCount int `mapstructure:"target_search_count"`

	// SearchContextSize is low, medium or high; passed to the search capability.
	SearchContextSize string `mapstructure:"search_context_size"`

	// MinimumReportWords is the word floor the synthesized report must meet.
	MinimumReportWords int `mapstructure:"minimum_report_words"`

	// MaxConcurrentSearches caps the executor's worker pool. Zero means
	// one worker per planned task.
	MaxConcurrentSearches int `mapstructure:"max_concurrent_searches"`

	// RequireAllSearches aborts the run if any search task fails instead of
	// synthesizing from the surviving summaries.
	RequireAllSearches bool `mapstructure:"require_all_searches"`

	// MaxConcurrentRuns caps how many research runs may be in flight at once.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// Validate checks research settings against the supported ranges.
func (r ResearchConfig) Validate() error {
	if r.TargetSearchCount < 1 {
		return fmt.Errorf("research.target_search_count must be >= 1")
	}
	switch r.SearchContextSize {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("research.search_context_size must be low, medium or high, got %q", r.SearchContextSize)
	}
	if r.MinimumReportWords < 0 {
		return fmt.Errorf("research.minimum_report_words must be >= 0")
	}
	if r.MaxConcurrentSearches < 0 {
		return fmt.Errorf("research.max_concurrent_searches must be >= 0")
	}
	if r.MaxConcurrentRuns < 1 {
		return fmt.Errorf("research.max_concurrent_runs must be >= 1")
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai only for now
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning      string `mapstructure:"planning"`      // query decomposition
	Summarization string `mapstructure:"summarization"` // per-search summaries
	Synthesis     string `mapstructure:"synthesis"`     // report writing
	Fallback      string `mapstructure:"fallback"`
}

// SearchConfig contains web search capability settings
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// EmailConfig contains message delivery capability settings
type EmailConfig struct {
	SendGridAPIKey string        `mapstructure:"sendgrid_api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	SenderAddress  string        `mapstructure:"sender_address"`
	Recipient      string        `mapstructure:"recipient_address"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Validate checks that delivery is addressable.
func (e EmailConfig) Validate() error {
	if strings.TrimSpace(e.SenderAddress) == "" {
		return fmt.Errorf("email.sender_address required")
	}
	if strings.TrimSpace(e.Recipient) == "" {
		return fmt.Errorf("email.recipient_address required")
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres:// connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings for live run status
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Validate checks the redis configuration when enabled.
func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Host == "" || r.Port == "" {
		return fmt.Errorf("storage.redis.host and storage.redis.port required when redis is enabled")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port must be >= 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig reads configuration from file and environment.
// Env vars use the DEEPRESEARCH_ prefix with dots replaced by underscores,
// e.g. DEEPRESEARCH_RESEARCH_TARGET_SEARCH_COUNT=5.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
		// defaults + env only
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}

	return &config
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "10m")
	viper.SetDefault("general.default_timeout", "60s")

	viper.SetDefault("research.target_search_count", 3)
	viper.SetDefault("research.search_context_size", "medium")
	viper.SetDefault("research.minimum_report_words", 1000)
	viper.SetDefault("research.max_concurrent_searches", 0)
	viper.SetDefault("research.require_all_searches", false)
	viper.SetDefault("research.max_concurrent_runs", 4)

	viper.SetDefault("llm.routing.planning", "gpt-4o-mini")
	viper.SetDefault("llm.routing.summarization", "gpt-4o-mini")
	viper.SetDefault("llm.routing.synthesis", "gpt-4o-mini")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	viper.SetDefault("search.provider", "serper")
	viper.SetDefault("search.timeout", "30s")

	viper.SetDefault("email.endpoint", "https://api.sendgrid.com/v3/mail/send")
	viper.SetDefault("email.subject_prefix", "[research]")
	viper.SetDefault("email.timeout", "30s")

	viper.SetDefault("server.address", ":10001")

	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 0)
	viper.SetDefault("telemetry.cost_tracking", true)
}
