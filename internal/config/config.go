// Package config reads the functions' settings from the environment.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/UKHomeOffice/recordsync/pkg/attribute"
	"github.com/UKHomeOffice/recordsync/pkg/forwarder"
	"github.com/UKHomeOffice/recordsync/pkg/notifier"
)

// Config holds every setting used by any of the functions
type Config struct {
	Kintone     KintoneConfig `mapstructure:"kintone"`
	Slack       SlackConfig   `mapstructure:"slack"`
	Queue       QueueConfig   `mapstructure:"queue"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	LogLevel    string        `mapstructure:"log_level"`
	Region      string        `mapstructure:"region"`
}

// KintoneConfig holds the destination record API settings
type KintoneConfig struct {
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	TokenHeader   string `mapstructure:"token_header"`
	AppID         string `mapstructure:"app_id"`
	ThrowDLQError bool   `mapstructure:"throw_dlq_error"`
	MaxBatchSize  int    `mapstructure:"max_batch_size"`
	DecodePolicy  string `mapstructure:"decode_policy"`
}

// SlackConfig holds the alert webhook
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// QueueConfig holds the test sender settings
type QueueConfig struct {
	URL             string `mapstructure:"url"`
	MaxTestMessages int    `mapstructure:"max_test_messages"`
}

// env maps config keys to the environment variables they are read from
var env = map[string]string{
	"kintone.url":             "KINTONE_API_URL",
	"kintone.token":           "KINTONE_API_TOKEN",
	"kintone.token_header":    "KINTONE_TOKEN_HEADER",
	"kintone.app_id":          "KINTONE_APP_ID",
	"kintone.throw_dlq_error": "THROW_DLQ_ERROR",
	"kintone.max_batch_size":  "MAX_BATCH_SIZE",
	"kintone.decode_policy":   "DECODE_POLICY",
	"slack.webhook_url":       "SLACK_WEBHOOK_URL",
	"queue.url":               "QUEUE_URL",
	"queue.max_test_messages": "MAX_TEST_MESSAGES",
	"http_timeout":            "HTTP_TIMEOUT",
	"log_level":               "LOG_LEVEL",
	"region":                  "AWS_REGION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kintone.token_header", forwarder.DefaultTokenHeader)
	v.SetDefault("kintone.throw_dlq_error", false)
	v.SetDefault("kintone.max_batch_size", forwarder.DefaultMaxRecords)
	v.SetDefault("kintone.decode_policy", attribute.Strict.String())
	v.SetDefault("queue.max_test_messages", 100)
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("log_level", "info")
}

// Load reads the environment into a Config. Nothing is validated here, each
// function checks what it needs.
func Load() (*Config, error) {

	v := viper.New()
	setDefaults(v)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("could not bind %v: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	return &cfg, nil
}

// MissingError lists every required variable that was not set
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing environment variables: %v", strings.Join(e.Keys, ", "))
}

type check struct {
	name string
	ok   bool
}

func missing(checks ...check) error {
	var keys []string
	for _, c := range checks {
		if !c.ok {
			keys = append(keys, c.name)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return &MissingError{Keys: keys}
}

// ValidateForwarder checks the settings the batch forwarder needs
func (c *Config) ValidateForwarder() error {

	if err := missing(
		check{"KINTONE_API_URL", c.Kintone.URL != ""},
		check{"KINTONE_API_TOKEN", c.Kintone.Token != ""},
		check{"KINTONE_APP_ID", c.Kintone.AppID != ""},
	); err != nil {
		return err
	}

	if _, err := attribute.ParsePolicy(c.Kintone.DecodePolicy); err != nil {
		return fmt.Errorf("DECODE_POLICY: %w", err)
	}
	if c.Kintone.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.Kintone.MaxBatchSize)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.HTTPTimeout)
	}
	return nil
}

// ValidateNotifier checks the settings the dead-letter notifier needs
func (c *Config) ValidateNotifier() error {
	return missing(check{"SLACK_WEBHOOK_URL", c.Slack.WebhookURL != ""})
}

// ValidateSender checks the settings the test sender needs
func (c *Config) ValidateSender() error {
	if err := missing(check{"QUEUE_URL", c.Queue.URL != ""}); err != nil {
		return err
	}
	if c.Queue.MaxTestMessages < 0 {
		return fmt.Errorf("MAX_TEST_MESSAGES must not be negative, got %d", c.Queue.MaxTestMessages)
	}
	return nil
}

// Policy returns the configured decode policy, Strict when unrecognised
func (c *Config) Policy() attribute.Policy {
	p, err := attribute.ParsePolicy(c.Kintone.DecodePolicy)
	if err != nil {
		return attribute.Strict
	}
	return p
}

// ForwarderConfig converts to the forwarder's settings
func (c *Config) ForwarderConfig() forwarder.Config {
	return forwarder.Config{
		URL:         c.Kintone.URL,
		Token:       c.Kintone.Token,
		TokenHeader: c.Kintone.TokenHeader,
		AppID:       c.Kintone.AppID,
		Timeout:     c.HTTPTimeout,
		MaxRecords:  c.Kintone.MaxBatchSize,
		InjectFault: c.Kintone.ThrowDLQError,
	}
}

// NotifierConfig converts to the notifier's settings
func (c *Config) NotifierConfig() notifier.Config {
	return notifier.Config{
		WebhookURL: c.Slack.WebhookURL,
		Timeout:    c.HTTPTimeout,
	}
}
