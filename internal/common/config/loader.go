// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like RETRIEVAL_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, e.g. config.production.yaml
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from multiple possible locations so tests running
// from nested packages pick it up too.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string config values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig applies direct env overrides for secrets that are
// commonly injected without a config file.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Retrieval.APIKey == "" {
		if val := os.Getenv("RETRIEVAL_API_KEY"); val != "" {
			cfg.Retrieval.APIKey = val
		}
	}

	if cfg.Models.Primary.APIKey == "" {
		if val := os.Getenv("GENAI_API_KEY"); val != "" {
			cfg.Models.Primary.APIKey = val
		}
	}
	if cfg.Models.Fallback.APIKey == "" {
		if val := os.Getenv("ANTHROPIC_API_KEY"); val != "" {
			cfg.Models.Fallback.APIKey = val
		}
	}

	if cfg.Auth.Keycloak.ClientSecret == "" {
		if val := os.Getenv("KEYCLOAK_CLIENT_SECRET"); val != "" {
			cfg.Auth.Keycloak.ClientSecret = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	// Guard defaults
	if cfg.Pipeline.Guard.WindowMs == 0 {
		cfg.Pipeline.Guard.WindowMs = 60000
	}
	if cfg.Pipeline.Guard.MaxPerWindow == 0 {
		cfg.Pipeline.Guard.MaxPerWindow = 20
	}
	if cfg.Pipeline.Guard.AutoBlacklistViolations == 0 {
		cfg.Pipeline.Guard.AutoBlacklistViolations = 10
	}
	if cfg.Pipeline.Guard.CooldownMs == 0 {
		cfg.Pipeline.Guard.CooldownMs = 300000
	}
	if cfg.Pipeline.Guard.SpamWindowMs == 0 {
		cfg.Pipeline.Guard.SpamWindowMs = 10000
	}
	if cfg.Pipeline.Guard.MaxIdentical == 0 {
		cfg.Pipeline.Guard.MaxIdentical = 5
	}
	if cfg.Pipeline.Guard.BanDurationMs == 0 {
		cfg.Pipeline.Guard.BanDurationMs = 600000
	}
	if cfg.Pipeline.Takeover.DormantAfterMs == 0 {
		cfg.Pipeline.Takeover.DormantAfterMs = 86400000
	}
	if cfg.Pipeline.Analytics.QueueSize == 0 {
		cfg.Pipeline.Analytics.QueueSize = 1024
	}
	if cfg.Pipeline.Analytics.Index == "" {
		cfg.Pipeline.Analytics.Index = "message-analytics"
	}
	if cfg.Pipeline.PersistTimeout == 0 {
		cfg.Pipeline.PersistTimeout = 5000
	}

	// Retrieval defaults
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 10000
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.5
	}
	if cfg.Retrieval.CacheTTL == 0 {
		cfg.Retrieval.CacheTTL = 300
	}

	// Model provider defaults
	applyProviderDefaults(&cfg.Models.Primary)
	applyProviderDefaults(&cfg.Models.Fallback)

	// Evaluation defaults
	if cfg.Evaluation.IntentThreshold == 0 {
		cfg.Evaluation.IntentThreshold = 0.8
	}
	if cfg.Evaluation.KeywordThreshold == 0 {
		cfg.Evaluation.KeywordThreshold = 0.7
	}
	if cfg.Evaluation.OverallThreshold == 0 {
		cfg.Evaluation.OverallThreshold = 0.75
	}
	if cfg.Evaluation.Concurrency == 0 {
		cfg.Evaluation.Concurrency = 4
	}

	if cfg.Ingest.Address == "" {
		cfg.Ingest.Address = ":8090"
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = ":8091"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Kind == "" {
		p.Kind = "genai_http"
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 1024
	}
	if p.Timeout == 0 {
		p.Timeout = 60000
	}
	if p.RequestsPerMinute == 0 {
		p.RequestsPerMinute = 60
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 1
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Retrieval.BaseURL == "" {
		return fmt.Errorf("retrieval.base_url is required")
	}
	if cfg.Models.Primary.Kind == "genai_http" && cfg.Models.Primary.BaseURL == "" {
		return fmt.Errorf("models.primary.base_url is required for genai_http providers")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
