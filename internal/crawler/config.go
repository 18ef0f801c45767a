package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Isolation modes for task execution.
const (
	IsolationInProcess = "inprocess"
	IsolationProcess   = "process"
)

// Config captures every knob that shapes a crawl run. Depth limit, worker
// count, batch size and the domain lists are plain data so one scheduler
// serves every crawl profile.
type Config struct {
	Seeds          []string      `mapstructure:"seeds"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
	DeniedDomains  []string      `mapstructure:"denied_domains"`
	MaxDepth       int           `mapstructure:"max_depth"`
	Workers        int           `mapstructure:"workers"`
	BatchSize      int           `mapstructure:"batch_size"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	Isolation      string        `mapstructure:"isolation"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LoadCrawlerConfig reads the crawler section from v.
func LoadCrawlerConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("crawler", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal crawler config: %w", err)
	}
	cfg.AllowedDomains = NormalizeDomains(cfg.AllowedDomains)
	cfg.DeniedDomains = NormalizeDomains(cfg.DeniedDomains)
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("crawler.seeds must include at least one seed URL")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("crawler.task_timeout must be > 0")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("crawler.shutdown_grace must be >= 0")
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("crawler.batch_delay must be >= 0")
	}
	switch c.Isolation {
	case "", IsolationInProcess, IsolationProcess:
	default:
		return fmt.Errorf("crawler.isolation must be %q or %q", IsolationInProcess, IsolationProcess)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	return nil
}

// NormalizeDomains lowercases and trims domain patterns, dropping blanks and
// duplicates.
func NormalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, d := range in {
		d = strings.TrimSpace(strings.ToLower(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Render wait conditions.
const (
	WaitLoad        = "load"
	WaitNetworkIdle = "networkidle"
)

// RenderConfig shapes how each page is rendered.
type RenderConfig struct {
	WaitUntil    string        `mapstructure:"wait_until"`
	WaitSelector string        `mapstructure:"wait_selector"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	DomainQPS    float64       `mapstructure:"domain_qps"`
	Headless     bool          `mapstructure:"headless"`
}

// Validate checks render settings.
func (c RenderConfig) Validate() error {
	switch c.WaitUntil {
	case "", WaitLoad, WaitNetworkIdle:
	default:
		return fmt.Errorf("render.wait_until must be %q or %q", WaitLoad, WaitNetworkIdle)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("render.settle_delay must be >= 0")
	}
	if c.NavTimeout < 0 {
		return fmt.Errorf("render.nav_timeout must be >= 0")
	}
	if c.DomainQPS < 0 {
		return fmt.Errorf("render.domain_qps must be >= 0")
	}
	return nil
}

// Request builds the RenderRequest for url.
func (c RenderConfig) Request(url string) RenderRequest {
	wait := c.WaitUntil
	if wait == "" {
		wait = WaitLoad
	}
	return RenderRequest{
		URL:          url,
		WaitUntil:    wait,
		WaitSelector: c.WaitSelector,
		SettleDelay:  c.SettleDelay,
		Timeout:      c.NavTimeout,
	}
}
