// Package config initializes the global Viper instance used by the CLI.
// Settings come from a config file, SITE_INGEST_* environment variables and
// command-line flags bound by the commands.
package config

import (
	"errors"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	appconfig "github.com/JakeFAU/site-ingest/internal/config"
	"github.com/JakeFAU/site-ingest/internal/logging"
)

// InitConfig prepares the global Viper instance. An explicit cfgFile wins
// over the search paths. A missing config file is not an error; defaults and
// environment variables still apply.
func InitConfig(cfgFile string) error {
	v := viper.GetViper()
	appconfig.Prepare(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/site-ingest/")
		v.AddConfigPath("$HOME/.site-ingest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
			return nil
		}
		logging.L.Error("Error reading config file", zap.Error(err))
		return err
	}
	logging.L.Info("Using config file", zap.String("path", v.ConfigFileUsed()))
	return nil
}

// Load decodes the global Viper instance into a validated Config.
func Load() (appconfig.Config, error) {
	return appconfig.FromViper(viper.GetViper())
}
