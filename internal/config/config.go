// Package config loads and validates site-ingest configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-ingest/internal/cleaner"
	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/frontier"
	pubsubpub "github.com/JakeFAU/site-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/site-ingest/internal/segment"
	"github.com/JakeFAU/site-ingest/internal/storage"
	"github.com/JakeFAU/site-ingest/internal/storage/gcs"
	"github.com/JakeFAU/site-ingest/internal/storage/local"
	"github.com/JakeFAU/site-ingest/internal/storage/postgres"
	"github.com/JakeFAU/site-ingest/internal/tokenizer"
)

// EnvPrefix prefixes every environment override, e.g. SITE_INGEST_CRAWLER_WORKERS.
const EnvPrefix = "SITE_INGEST"

// DefaultUserAgent identifies the crawler to origin servers.
const DefaultUserAgent = "site-ingest/1.0 (+https://github.com/JakeFAU/site-ingest)"

// Publisher modes.
const (
	PublisherNone   = ""
	PublisherPubSub = "pubsub"
	PublisherMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  crawler.Config       `mapstructure:"crawler"`
	Frontier frontier.Config      `mapstructure:"frontier"`
	Render   crawler.RenderConfig `mapstructure:"render"`
	Cleaner  CleanerConfig        `mapstructure:"cleaner"`
	Storage  StorageConfig        `mapstructure:"storage"`
	PubSub   PubSubConfig         `mapstructure:"pubsub"`
	Segment  SegmentConfig        `mapstructure:"segment"`
	Server   ServerConfig         `mapstructure:"server"`
	Logging  LoggingConfig        `mapstructure:"logging"`
}

// CleanerConfig selects the boilerplate stripper.
type CleanerConfig struct {
	Mode string `mapstructure:"mode"`
}

// StorageConfig selects the document sink and its backends.
type StorageConfig struct {
	Mode string `mapstructure:"mode"`
	// Fallback writes to the local backend when the primary sink fails.
	Fallback bool            `mapstructure:"fallback"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// PubSubConfig controls stored-document notifications.
type PubSubConfig struct {
	Mode             string `mapstructure:"mode"`
	pubsubpub.Config `mapstructure:",squash"`
}

// SegmentConfig shapes chunking.
type SegmentConfig struct {
	segment.Options `mapstructure:",squash"`
	Encoding        string `mapstructure:"encoding"`
	// Inline segments each document as it is stored during the crawl.
	Inline bool `mapstructure:"inline"`
}

// ServerConfig controls the status server. An empty Addr disables it.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	Prepare(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// Prepare installs defaults and environment overrides on v.
func Prepare(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawler.AllowedDomains = crawler.NormalizeDomains(cfg.Crawler.AllowedDomains)
	cfg.Crawler.DeniedDomains = crawler.NormalizeDomains(cfg.Crawler.DeniedDomains)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.denied_domains", []string{})
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.batch_size", 8)
	v.SetDefault("crawler.task_timeout", "60s")
	v.SetDefault("crawler.shutdown_grace", "10s")
	v.SetDefault("crawler.batch_delay", "1s")
	// Each worker gets its own child process so a terminal interrupt or a
	// crashed renderer cannot take down tasks on other workers. inprocess
	// saves one process per worker.
	v.SetDefault("crawler.isolation", crawler.IsolationProcess)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)

	v.SetDefault("frontier.dir", "data/frontier")
	v.SetDefault("frontier.pending_file", frontier.DefaultPendingFile)
	v.SetDefault("frontier.scraped_file", frontier.DefaultScrapedFile)
	v.SetDefault("frontier.errored_file", frontier.DefaultErroredFile)

	v.SetDefault("render.wait_until", crawler.WaitNetworkIdle)
	v.SetDefault("render.wait_selector", "")
	v.SetDefault("render.settle_delay", "3s")
	v.SetDefault("render.nav_timeout", "30s")
	v.SetDefault("render.domain_qps", 0)
	v.SetDefault("render.headless", true)

	v.SetDefault("cleaner.mode", cleaner.ModeSelector)

	v.SetDefault("storage.mode", storage.ModeLocal)
	v.SetDefault("storage.fallback", true)
	v.SetDefault("storage.local.dir", "data/documents")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 4)

	v.SetDefault("pubsub.mode", PublisherNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	defaults := segment.DefaultOptions()
	v.SetDefault("segment.min_tokens", defaults.MinTokens)
	v.SetDefault("segment.max_tokens", defaults.MaxTokens)
	v.SetDefault("segment.bucket_target", defaults.BucketTarget)
	v.SetDefault("segment.title_separator", defaults.TitleSeparator)
	v.SetDefault("segment.encoding", tokenizer.DefaultEncoding)
	v.SetDefault("segment.inline", false)

	v.SetDefault("server.addr", "")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.development", false)
}

// Validate enforces the settings every command relies on. Crawl-only
// settings are checked by ValidateCrawl.
func (c Config) Validate() error {
	switch c.Cleaner.Mode {
	case "", cleaner.ModeSelector, cleaner.ModeTrafilatura, cleaner.ModeNone:
	default:
		return fmt.Errorf("cleaner.mode must be one of %q, %q, %q", cleaner.ModeSelector, cleaner.ModeTrafilatura, cleaner.ModeNone)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	switch c.PubSub.Mode {
	case PublisherNone, PublisherMemory:
	case PublisherPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub.mode is %q", PublisherPubSub)
		}
	default:
		return fmt.Errorf("pubsub.mode must be empty, %q or %q", PublisherPubSub, PublisherMemory)
	}
	if err := c.Segment.Options.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Frontier.Dir) == "" {
		return fmt.Errorf("frontier.dir must be set")
	}
	return nil
}

// ValidateCrawl adds the checks the crawl command needs.
func (c Config) ValidateCrawl() error {
	if err := c.Crawler.Validate(); err != nil {
		return err
	}
	return c.Render.Validate()
}

// Validate checks that the selected backend is configured.
func (s StorageConfig) Validate() error {
	switch s.Mode {
	case storage.ModeLocal, storage.ModeMemory:
	case storage.ModeGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when storage.mode is %q", storage.ModeGCS)
		}
	case storage.ModePostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required when storage.mode is %q", storage.ModePostgres)
		}
	default:
		return fmt.Errorf("storage.mode must be one of %q, %q, %q, %q",
			storage.ModeLocal, storage.ModeGCS, storage.ModePostgres, storage.ModeMemory)
	}
	if (s.Mode == storage.ModeLocal || s.Fallback) && strings.TrimSpace(s.Local.Dir) == "" {
		return fmt.Errorf("storage.local.dir must be set")
	}
	return nil
}
