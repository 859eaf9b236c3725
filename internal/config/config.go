// Package config loads scheduler settings from an optional scheduler.json
// file and the environment. Environment variables override the file; both
// override the defaults below. Variable names are the upper-cased keys
// (TASK_BUCKET, POLL_INTERVAL, ...).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fpang/social-post-scheduler/internal/task"
)

// Config holds every setting the binaries read.
type Config struct {
	TaskBucket   string        `mapstructure:"task_bucket"`
	MediaBucket  string        `mapstructure:"media_bucket"`
	LeaseTable   string        `mapstructure:"lease_table"`
	EventBusName string        `mapstructure:"event_bus_name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	ListPageSize int           `mapstructure:"list_page_size"`
	HTTPAddr     string        `mapstructure:"http_addr"`
	Platforms    []string      `mapstructure:"platforms"`

	// SSMPrefix is where secrets missing from the environment are read.
	SSMPrefix           string `mapstructure:"ssm_prefix"`
	TwitterClientID     string `mapstructure:"twitter_client_id"`
	TwitterClientSecret string `mapstructure:"twitter_client_secret"`

	// OriginVerifySecret, when set, must arrive in x-origin-verify on every
	// control API request except the liveness check.
	OriginVerifySecret string `mapstructure:"origin_verify_secret"`

	// Endpoint overrides for staging and tests. Empty means production.
	InstagramBaseURL    string `mapstructure:"instagram_base_url"`
	InstagramRefreshURL string `mapstructure:"instagram_refresh_url"`
	FacebookBaseURL     string `mapstructure:"facebook_base_url"`
	TwitterAPIURL       string `mapstructure:"twitter_api_url"`
	TwitterUploadURL    string `mapstructure:"twitter_upload_url"`
	TwitterTokenURL     string `mapstructure:"twitter_token_url"`
}

var defaults = map[string]any{
	"task_bucket":           "",
	"media_bucket":          "",
	"lease_table":           "",
	"event_bus_name":        "",
	"poll_interval":         "1m",
	"max_attempts":          3,
	"list_page_size":        1000,
	"http_addr":             ":8080",
	"platforms":             []string{"instagram", "facebook", "twitter"},
	"ssm_prefix":            "/social-scheduler/prod",
	"twitter_client_id":     "",
	"twitter_client_secret": "",
	"origin_verify_secret":  "",
	"instagram_base_url":    "",
	"instagram_refresh_url": "",
	"facebook_base_url":     "",
	"twitter_api_url":       "",
	"twitter_upload_url":    "",
	"twitter_token_url":     "",
}

// Load reads configuration. configFile, when non-empty, names an explicit
// file; otherwise scheduler.json is searched in . and ./config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("scheduler")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug().Msg("No config file found, using environment and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.MediaBucket == "" {
		c.MediaBucket = c.TaskBucket
	}
	return &c, nil
}

// Validate reports settings that make the scheduler unusable.
func (c *Config) Validate() error {
	if c.TaskBucket == "" {
		return errors.New("task_bucket is required")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval %s is too short", c.PollInterval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if _, err := c.EnabledPlatforms(); err != nil {
		return err
	}
	return nil
}

// EnabledPlatforms parses Platforms, dropping duplicates. Entries may be
// comma-separated.
func (c *Config) EnabledPlatforms() ([]task.Platform, error) {
	seen := make(map[task.Platform]bool)
	var out []task.Platform
	for _, entry := range c.Platforms {
		for _, name := range strings.Split(entry, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			p, err := task.ParsePlatform(name)
			if err != nil {
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no platforms enabled")
	}
	return out, nil
}

// SSMPath returns the parameter path for a secret name under SSMPrefix.
func (c *Config) SSMPath(name string) string {
	return strings.TrimSuffix(c.SSMPrefix, "/") + "/" + name
}
