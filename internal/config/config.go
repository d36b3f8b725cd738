// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Config holds the full application configuration.
type Config struct {
	Paths          PathsConfig           `yaml:"paths" mapstructure:"paths"`
	Mail           MailConfig            `yaml:"mail" mapstructure:"mail"`
	FTP            map[string]FTPSource  `yaml:"ftp" mapstructure:"ftp"`
	Counterparties map[string]RuleConfig `yaml:"counterparties" mapstructure:"counterparties"`
	FX             FXConfig              `yaml:"fx" mapstructure:"fx"`
	Dispatch       DispatchConfig        `yaml:"dispatch" mapstructure:"dispatch"`
	RunLog         RunLogConfig          `yaml:"runlog" mapstructure:"runlog"`
	Server         ServerConfig          `yaml:"server" mapstructure:"server"`
	Log            LogConfig             `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the persisted artifacts on disk.
type PathsConfig struct {
	AttachmentsDir string `yaml:"attachments_dir" mapstructure:"attachments_dir"`
	CacheFile      string `yaml:"cache_file" mapstructure:"cache_file"`
	HistoryDir     string `yaml:"history_dir" mapstructure:"history_dir"`
	FXCacheFile    string `yaml:"fx_cache_file" mapstructure:"fx_cache_file"`
	RulesFile      string `yaml:"rules_file" mapstructure:"rules_file"`
}

// MailConfig holds Microsoft Graph credentials and the shared mailboxes to sweep.
type MailConfig struct {
	TenantID     string   `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	AuthorityURL string   `yaml:"authority_url" mapstructure:"authority_url"`
	Mailboxes    []string `yaml:"mailboxes" mapstructure:"mailboxes"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize     int      `yaml:"page_size" mapstructure:"page_size"`
}

// FTPSource configures a counterparty that delivers statements over FTP
// instead of mail, keyed by bank code.
type FTPSource struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// RuleConfig describes how inbound mail is matched to one counterparty.
type RuleConfig struct {
	Addresses      []string `yaml:"addresses" mapstructure:"addresses"`
	Domains        []string `yaml:"domains" mapstructure:"domains"`
	SubjectWords   []string `yaml:"subject_words" mapstructure:"subject_words"`
	SubjectPattern string   `yaml:"subject_pattern" mapstructure:"subject_pattern"`
	Filenames      []string `yaml:"filenames" mapstructure:"filenames"`
}

// FXConfig configures the FX-rate collaborator.
type FXConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	Currencies  []string `yaml:"currencies" mapstructure:"currencies"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DispatchConfig configures the extraction worker pool.
type DispatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-batch ceiling, or zero when unset.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

// RunLogConfig configures the run log backend.
type RunLogConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the status HTTP server.
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
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("paths.attachments_dir", "./attachments")
	v.SetDefault("paths.cache_file", "./cache/index.csv")
	v.SetDefault("paths.history_dir", "./history")
	v.SetDefault("paths.fx_cache_file", "./cache/fx.json")
	v.SetDefault("mail.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("mail.authority_url", "https://login.microsoftonline.com")
	v.SetDefault("mail.rate_per_sec", 4.0)
	v.SetDefault("mail.page_size", 100)
	v.SetDefault("fx.base_url", "https://api.frankfurter.dev/v1")
	v.SetDefault("fx.currencies", []string{"USD", "CHF", "GBP", "DKK", "SEK", "NOK", "JPY"})
	v.SetDefault("fx.timeout_secs", 15)
	v.SetDefault("dispatch.concurrency", 6)
	v.SetDefault("dispatch.timeout_secs", 0)
	v.SetDefault("runlog.driver", "sqlite")
	v.SetDefault("runlog.dsn", "./cache/runlog.db")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects structurally broken configuration before the run loop
// starts. Per-bank problems during a run are recovered locally; problems
// found here abort the whole run.
func (c *Config) Validate() error {
	for name, rule := range c.Counterparties {
		if _, err := recon.ParseBank(name); err != nil {
			return eris.Wrapf(err, "config: counterparty %q", name)
		}
		if len(rule.Addresses) == 0 && len(rule.Domains) == 0 &&
			len(rule.SubjectWords) == 0 && rule.SubjectPattern == "" {
			return eris.Errorf("config: counterparty %q has no addresses, domains, or subject rule", name)
		}
	}
	for name, src := range c.FTP {
		if _, err := recon.ParseBank(name); err != nil {
			return eris.Wrapf(err, "config: ftp source %q", name)
		}
		if src.Host == "" {
			return eris.Errorf("config: ftp source %q has no host", name)
		}
	}
	if c.Dispatch.Concurrency < 1 {
		return eris.Errorf("config: dispatch.concurrency must be >= 1, got %d", c.Dispatch.Concurrency)
	}
	switch c.RunLog.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown runlog driver %q (valid: sqlite, postgres)", c.RunLog.Driver)
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
