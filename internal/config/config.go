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
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Refdata   RefdataConfig   `yaml:"refdata" mapstructure:"refdata"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings for LLM extraction and
// bank feed matching.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ExtractConfig selects the extraction backend. Mode is "file" for
// pre-extracted JSON payloads or "llm" for Claude-backed extraction.
type ExtractConfig struct {
	Mode       string `yaml:"mode" mapstructure:"mode"`
	PayloadDir string `yaml:"payload_dir" mapstructure:"payload_dir"`
}

// PipelineConfig configures validation and routing behavior.
type PipelineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	BaseCurrency        string  `yaml:"base_currency" mapstructure:"base_currency"`
	DuplicateWindowDays int     `yaml:"duplicate_window_days" mapstructure:"duplicate_window_days"`
}

// ReviewConfig configures the human review channel.
type ReviewConfig struct {
	Assignee      string `yaml:"assignee" mapstructure:"assignee"`
	WebhookURL    string `yaml:"webhook_url" mapstructure:"webhook_url"`
	NotionToken   string `yaml:"notion_token" mapstructure:"notion_token"`
	NotionQueueDB string `yaml:"notion_queue_db" mapstructure:"notion_queue_db"`
}

// RefdataConfig points at the master data seed file.
type RefdataConfig struct {
	SeedPath string `yaml:"seed_path" mapstructure:"seed_path"`
}

// FetchConfig configures remote payload retrieval.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	DefaultRate float64 `yaml:"default_rate" mapstructure:"default_rate"`
	FTPUser     string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string  `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// ServerConfig configures the intake webhook server.
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
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "ledger.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extract.mode", "file")
	v.SetDefault("extract.payload_dir", ".")
	v.SetDefault("pipeline.confidence_threshold", 0.85)
	v.SetDefault("pipeline.base_currency", "MYR")
	v.SetDefault("pipeline.duplicate_window_days", 90)
	v.SetDefault("review.assignee", "ap-team")
	v.SetDefault("fetch.user_agent", "ledger-cli/1.0")
	v.SetDefault("fetch.default_rate", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields the given command mode needs. Modes are
// "ingest", "serve", "recon" and "report".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		problems = append(problems, "pipeline.confidence_threshold must be in [0,1]")
	}
	if len(c.Pipeline.BaseCurrency) != 3 {
		problems = append(problems, "pipeline.base_currency must be a 3-letter ISO code")
	}

	switch mode {
	case "ingest":
		if c.Extract.Mode == "llm" && c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required for llm extraction")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "recon", "report":
		// Store checks above suffice.
	default:
		problems = append(problems, "unknown mode "+mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
