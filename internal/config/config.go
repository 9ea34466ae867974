// Package config loads runtime settings from a YAML file and the
// environment via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr  string `mapstructure:"listenAddr"`
	DatabaseDSN string `mapstructure:"databaseDsn"`
	BlobDir     string `mapstructure:"blobDir"`

	OSVBaseURL         string `mapstructure:"osvBaseUrl"`
	EPSSBaseURL        string `mapstructure:"epssBaseUrl"`
	MitreAPIBaseURL    string `mapstructure:"mitreApiBaseUrl"`
	MitreMirrorBaseURL string `mapstructure:"mitreMirrorBaseUrl"`

	RequestTimeoutSec int     `mapstructure:"requestTimeoutSec"`
	RateLimitPerSec   float64 `mapstructure:"rateLimitPerSec"`
	RateLimitBurst    int     `mapstructure:"rateLimitBurst"`

	LogLevel string `mapstructure:"logLevel"`
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Load reads config.yaml from the usual locations, then lets
// VULNTRIAGE_* environment variables override.
func Load() (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/vuln-triage")
	viper.AddConfigPath("/etc/vuln-triage")

	viper.SetDefault("listenAddr", ":8080")
	viper.SetDefault("databaseDsn", "")
	viper.SetDefault("blobDir", "blobs")
	viper.SetDefault("osvBaseUrl", "https://api.osv.dev")
	viper.SetDefault("epssBaseUrl", "https://api.first.org")
	viper.SetDefault("mitreApiBaseUrl", "https://cveawg.mitre.org")
	viper.SetDefault("mitreMirrorBaseUrl", "https://raw.githubusercontent.com/CVEProject/cvelistV5/main/cves")
	viper.SetDefault("requestTimeoutSec", 30)
	viper.SetDefault("rateLimitPerSec", 10)
	viper.SetDefault("rateLimitBurst", 20)
	viper.SetDefault("logLevel", "info")

	viper.SetEnvPrefix("VULNTRIAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("databaseDsn", "VULNTRIAGE_DATABASE_DSN")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
		// No config file: defaults plus environment.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
