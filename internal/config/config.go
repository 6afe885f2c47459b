package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Phantom   PhantomConfig   `yaml:"phantom" mapstructure:"phantom"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// PhantomConfig holds Phantombuster API settings and agent ids.
type PhantomConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	ProfileAgentID   string `yaml:"profile_agent_id" mapstructure:"profile_agent_id"`
	SearchAgentID    string `yaml:"search_agent_id" mapstructure:"search_agent_id"`
	SessionCookie    string `yaml:"session_cookie" mapstructure:"session_cookie"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CrawlConfig configures the crawl scheduler.
type CrawlConfig struct {
	TickMinutes       int `yaml:"tick_minutes" mapstructure:"tick_minutes"`
	Concurrency       int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPosts          int `yaml:"max_posts" mapstructure:"max_posts"`
	StaleRunGraceMins int `yaml:"stale_run_grace_mins" mapstructure:"stale_run_grace_mins"`
}

// ExtractConfig configures the signal extraction pipeline.
type ExtractConfig struct {
	BatchSize          int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency        int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts        int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RequestsPerMinute  int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	VocabularyPath     string `yaml:"vocabulary_path" mapstructure:"vocabulary_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("phantom.base_url", "https://api.phantombuster.com/api/v2")
	v.SetDefault("phantom.poll_interval_secs", 15)
	v.SetDefault("phantom.timeout_secs", 600)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("crawl.tick_minutes", 15)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.max_posts", 20)
	v.SetDefault("crawl.stale_run_grace_mins", 60)
	v.SetDefault("extract.batch_size", 50)
	v.SetDefault("extract.concurrency", 4)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.request_timeout_secs", 60)
	v.SetDefault("extract.requests_per_minute", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is sufficient for the given run
// mode. Modes: "serve", "crawl", "extract", "migrate".
func (c *Config) Validate(mode string) error {
	var missing []string

	requireDB := func() {
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
	}
	requirePhantom := func() {
		if c.Phantom.Key == "" {
			missing = append(missing, "phantom.key is required")
		}
		if c.Phantom.ProfileAgentID == "" && c.Phantom.SearchAgentID == "" {
			missing = append(missing, "phantom.profile_agent_id or phantom.search_agent_id is required")
		}
	}
	requireAnthropic := func() {
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	}

	switch mode {
	case "serve":
		requireDB()
		requirePhantom()
		requireAnthropic()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "crawl":
		requireDB()
		requirePhantom()
	case "extract":
		requireDB()
		requireAnthropic()
	case "migrate":
		requireDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Crawl.Concurrency < 1 || c.Crawl.Concurrency > 50 {
		missing = append(missing, "crawl.concurrency must be between 1 and 50")
	}
	if c.Extract.Concurrency < 1 || c.Extract.Concurrency > 50 {
		missing = append(missing, "extract.concurrency must be between 1 and 50")
	}
	if c.Extract.MaxAttempts < 1 {
		missing = append(missing, "extract.max_attempts must be >= 1")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
