package crawler

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCrawlerConfig(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("crawler.seeds", []string{"https://www.canada.ca/en.html"})
	v.Set("crawler.allowed_domains", []string{" Canada.ca ", "canada.ca", ""})
	v.Set("crawler.max_depth", 3)
	v.Set("crawler.workers", 2)
	v.Set("crawler.batch_size", 8)
	v.Set("crawler.task_timeout", "60s")
	v.Set("crawler.batch_delay", "1s")
	v.Set("crawler.user_agent", "site-ingest")

	cfg, err := LoadCrawlerConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"canada.ca"}, cfg.AllowedDomains)
	assert.Equal(t, 60*time.Second, cfg.TaskTimeout)
	assert.Equal(t, time.Second, cfg.BatchDelay)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := testConfig("https://example.com")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no seeds", mutate: func(c *Config) { c.Seeds = nil }},
		{name: "negative depth", mutate: func(c *Config) { c.MaxDepth = -1 }},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }},
		{name: "no batch", mutate: func(c *Config) { c.BatchSize = 0 }},
		{name: "no timeout", mutate: func(c *Config) { c.TaskTimeout = 0 }},
		{name: "bad isolation", mutate: func(c *Config) { c.Isolation = "thread" }},
		{name: "no user agent", mutate: func(c *Config) { c.UserAgent = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig("https://example.com")
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRenderConfig(t *testing.T) {
	t.Parallel()

	require.NoError(t, RenderConfig{}.Validate())
	require.Error(t, RenderConfig{WaitUntil: "domcontentloaded"}.Validate())
	require.Error(t, RenderConfig{DomainQPS: -1}.Validate())

	req := RenderConfig{WaitSelector: "main", SettleDelay: time.Second}.Request("https://example.com")
	assert.Equal(t, WaitLoad, req.WaitUntil)
	assert.Equal(t, "main", req.WaitSelector)
	assert.Equal(t, time.Second, req.SettleDelay)
}
