// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Retrieval     RetrievalConfig    `mapstructure:"retrieval"`
	Models        ModelsConfig       `mapstructure:"models"`
	Evaluation    EvaluationConfig   `mapstructure:"evaluation"`
	Ingest        IngestConfig       `mapstructure:"ingest"`
	Admin         AdminConfig        `mapstructure:"admin"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Registry      RegistryConfig     `mapstructure:"registry"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Pipeline Configuration ---

// PipelineConfig holds the message-processing settings.
type PipelineConfig struct {
	Guard     GuardConfig     `mapstructure:"guard"`
	Takeover  TakeoverConfig  `mapstructure:"takeover"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`

	// SilentDrop suppresses the canned warning reply on guard rejections.
	SilentDrop bool `mapstructure:"silent_drop"`

	// PersistTimeout bounds the synchronous persistence hand-off, milliseconds.
	PersistTimeout int `mapstructure:"persist_timeout"`
}

// GuardConfig holds rate-limit and spam-guard settings.
type GuardConfig struct {
	WindowMs                int `mapstructure:"window_ms"`
	MaxPerWindow            int `mapstructure:"max_per_window"`
	AutoBlacklistViolations int `mapstructure:"auto_blacklist_violations"`
	CooldownMs              int `mapstructure:"cooldown_ms"`

	SpamWindowMs  int `mapstructure:"spam_window_ms"`
	MaxIdentical  int `mapstructure:"max_identical"`
	BanDurationMs int `mapstructure:"ban_duration_ms"`
}

type TakeoverConfig struct {
	// DormantAfterMs marks a conversation dormant after this much inactivity.
	DormantAfterMs int `mapstructure:"dormant_after_ms"`
}

type AnalyticsConfig struct {
	QueueSize int    `mapstructure:"queue_size"`
	Index     string `mapstructure:"index"` // Elasticsearch analytics index
}

// RetrievalConfig holds settings for the knowledge search client.
type RetrievalConfig struct {
	BaseURL  string  `mapstructure:"base_url"`
	APIKey   string  `mapstructure:"api_key"`
	Timeout  int     `mapstructure:"timeout"` // milliseconds
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
	CacheTTL int     `mapstructure:"cache_ttl"` // seconds
}

// ModelsConfig holds the primary and fallback language-model providers.
type ModelsConfig struct {
	Primary  ProviderConfig `mapstructure:"primary"`
	Fallback ProviderConfig `mapstructure:"fallback"`
}

// ProviderConfig describes one language-model provider.
type ProviderConfig struct {
	Kind              string  `mapstructure:"kind"` // "genai_http" or "anthropic"
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	Timeout           int     `mapstructure:"timeout"` // milliseconds
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	MaxRetries        int     `mapstructure:"max_retries"`
}

// EvaluationConfig holds golden-set settings.
type EvaluationConfig struct {
	CorpusPath       string  `mapstructure:"corpus_path"`
	IntentThreshold  float64 `mapstructure:"intent_threshold"`
	KeywordThreshold float64 `mapstructure:"keyword_threshold"`
	OverallThreshold float64 `mapstructure:"overall_threshold"`
	Concurrency      int     `mapstructure:"concurrency"`
}

// IngestConfig holds the channel-adapter facing message API settings.
type IngestConfig struct {
	Address string `mapstructure:"address"`
}

// AdminConfig holds the admin control surface settings.
type AdminConfig struct {
	Address     string `mapstructure:"address"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
}

// AuthConfig holds Keycloak settings guarding the admin surface.
type AuthConfig struct {
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// NotificationConfig holds settings for operator alerting.
type NotificationConfig struct {
	Email struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		Operators []string `mapstructure:"operators"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool     `mapstructure:"enabled"`
		SenderID string   `mapstructure:"sender_id"`
		Numbers  []string `mapstructure:"numbers"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// RegistryConfig points at the intent registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
