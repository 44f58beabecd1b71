package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	App       AppConfigSection `mapstructure:"app"`
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Embedding EmbeddingConfig  `mapstructure:"embedding"`
	Retrieval RetrievalConfig  `mapstructure:"retrieval"`
	Session   SessionConfig    `mapstructure:"session"`
	Persona   PersonaConfig    `mapstructure:"persona"`
	Harness   HarnessConfig    `mapstructure:"harness"`
}

// AppConfigSection holds process-wide settings.
type AppConfigSection struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`  // trace, debug, info, warn, error
	LogFormat string `mapstructure:"log_format"` // json | console
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// DatabaseConfig configures the libSQL connection shared by every store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`        // file:path.db or libsql://host
	AuthToken       string        `mapstructure:"auth_token"` // remote only
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeoutMs   int           `mapstructure:"busy_timeout_ms"`
	JournalMode     string        `mapstructure:"journal_mode"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai (any OpenAI-compatible endpoint)
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig configures the question embedder. It must match the model
// used to embed the corpus chunks.
type EmbeddingConfig struct {
	Provider string        `mapstructure:"provider"` // openai | ollama | genai
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Dims     int           `mapstructure:"dims"`
	TaskType string        `mapstructure:"task_type"` // genai only
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig bounds both retrieval chains.
type RetrievalConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	LoopTimeout      time.Duration `mapstructure:"loop_timeout"`
	LookupLimit      int           `mapstructure:"lookup_limit"`
	ExploratoryLimit int           `mapstructure:"exploratory_limit"`
	MaxRows          int           `mapstructure:"max_rows"`
	TopK             int           `mapstructure:"top_k"`
	MinScore         float64       `mapstructure:"min_score"`
	SchemaTTL        time.Duration `mapstructure:"schema_ttl"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	MaxSnippets      int           `mapstructure:"max_snippets"`
}

// SessionConfig controls conversational history.
type SessionConfig struct {
	HistoryWindow int `mapstructure:"history_window"` // turns fed to the rephraser
}

// PersonaConfig sets the voice and domain of the synthesized answers.
type PersonaConfig struct {
	Name    string `mapstructure:"name"`
	Subject string `mapstructure:"subject"`
	Refusal string `mapstructure:"refusal"` // may contain %s for the subject
}

// HarnessConfig holds the generation harness policies.
type HarnessConfig struct {
	CacheEnabled        bool          `mapstructure:"cache_enabled"`
	CacheCapacity       int           `mapstructure:"cache_capacity"`
	CacheTTLSeconds     int           `mapstructure:"cache_ttl_seconds"`
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	MaxOutputSize       int           `mapstructure:"max_output_size"`
	EnableTracing       bool          `mapstructure:"enable_tracing"`
}

var (
	AppConfig Config
	appMu     sync.RWMutex
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)
	cfg, err := readConfig(v)
	if err != nil {
		return nil, err
	}

	appMu.Lock()
	AppConfig = *cfg
	appMu.Unlock()

	return cfg, nil
}

// WatchConfig loads the configuration and invokes onChange with the freshly
// decoded value every time the config file changes on disk. Invalid edits are
// reported through onError and leave the previous configuration in place.
func WatchConfig(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	v := newViper(configPath)
	cfg, err := readConfig(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := readConfig(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		appMu.Lock()
		AppConfig = *next
		appMu.Unlock()
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName(internal.DefaultConfigName)
		v.SetConfigType(internal.DefaultConfigType)
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.api_key becomes EGR_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", internal.DefaultAppName)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.enable_metrics", true)

	// LibSQL embedded by default; remote libsql:// URLs use auth_token
	v.SetDefault("database.url", "file:egr.db")
	v.SetDefault("database.auth_token", "")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 8)
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dims", 1536)
	v.SetDefault("embedding.task_type", "RETRIEVAL_QUERY")
	v.SetDefault("embedding.timeout", "30s")

	v.SetDefault("retrieval.max_attempts", 3)
	v.SetDefault("retrieval.attempt_timeout", "20s")
	v.SetDefault("retrieval.loop_timeout", "60s")
	v.SetDefault("retrieval.lookup_limit", 10)
	v.SetDefault("retrieval.exploratory_limit", 20)
	v.SetDefault("retrieval.max_rows", 20)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("retrieval.schema_ttl", "5m")
	v.SetDefault("retrieval.max_context_tokens", 3000)
	v.SetDefault("retrieval.max_snippets", 20)

	v.SetDefault("session.history_window", 6)

	v.SetDefault("persona.name", "Learn With Jason")
	v.SetDefault("persona.subject", "web development and the Learn With Jason episodes")
	v.SetDefault("persona.refusal", "Sorry, I can only help with questions about %s.")

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 256)
	v.SetDefault("harness.cache_ttl_seconds", 300)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 20)
	v.SetDefault("harness.rate_limit_refill_rate", "500ms")
	v.SetDefault("harness.tool_timeout", "75s")
	v.SetDefault("harness.max_output_size", 8000)
	v.SetDefault("harness.enable_tracing", true)
}

func readConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	r := c.Retrieval
	switch {
	case r.MaxAttempts < 1:
		return fmt.Errorf("retrieval.max_attempts must be >= 1, got %d", r.MaxAttempts)
	case r.TopK < 1 || r.TopK > 20:
		return fmt.Errorf("retrieval.top_k must be between 1 and 20, got %d", r.TopK)
	case r.LookupLimit < 1 || r.ExploratoryLimit < r.LookupLimit:
		return fmt.Errorf("retrieval limits invalid: lookup=%d exploratory=%d", r.LookupLimit, r.ExploratoryLimit)
	case r.MaxRows < r.ExploratoryLimit:
		return fmt.Errorf("retrieval.max_rows (%d) must be >= exploratory_limit (%d)", r.MaxRows, r.ExploratoryLimit)
	case r.AttemptTimeout <= 0 || r.LoopTimeout < r.AttemptTimeout:
		return fmt.Errorf("retrieval timeouts invalid: attempt=%s loop=%s", r.AttemptTimeout, r.LoopTimeout)
	case c.Session.HistoryWindow < 0:
		return fmt.Errorf("session.history_window must be >= 0, got %d", c.Session.HistoryWindow)
	case c.Database.URL == "":
		return fmt.Errorf("database.url is required")
	}

	switch c.Embedding.Provider {
	case "openai", "ollama", "genai":
	default:
		return fmt.Errorf("unsupported embedding.provider %q", c.Embedding.Provider)
	}
	if c.LLM.Provider != "openai" {
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// Current returns a copy of the most recently loaded configuration.
func Current() Config {
	appMu.RLock()
	defer appMu.RUnlock()
	return AppConfig
}
