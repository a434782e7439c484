package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nhle/humanloop/internal/channel/email"
)

// EnvPrefix prefixes environment overrides, e.g. HUMANLOOP_EMAIL_IMAP_HOST.
const EnvPrefix = "HUMANLOOP"

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Secure   bool   `mapstructure:"secure" yaml:"secure"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty to resolve it from the environment or the
	// OS keyring.
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// TLSOptionsConfig tunes the IMAP TLS handshake.
type TLSOptionsConfig struct {
	ServerName         string `mapstructure:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// IMAPConfig holds the inbound mail server settings.
type IMAPConfig struct {
	Host       string           `mapstructure:"host" yaml:"host"`
	Port       int              `mapstructure:"port" yaml:"port"`
	Username   string           `mapstructure:"username" yaml:"username"`
	Password   string           `mapstructure:"password" yaml:"password,omitempty"`
	TLS        bool             `mapstructure:"tls" yaml:"tls"`
	Insecure   bool             `mapstructure:"insecure" yaml:"insecure"`
	Mailbox    string           `mapstructure:"mailbox" yaml:"mailbox"`
	TLSOptions TLSOptionsConfig `mapstructure:"tls_options" yaml:"tls_options"`
}

// ListenerConfig tunes reply detection.
type ListenerConfig struct {
	PollIntervalSec      int  `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	ReconnectDelaySec    int  `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
	MaxReconnectAttempts int  `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	MarkUnmatchedSeen    bool `mapstructure:"mark_unmatched_seen" yaml:"mark_unmatched_seen"`
	MaxContentChars      int  `mapstructure:"max_content_chars" yaml:"max_content_chars"`
}

// EmailConfig configures the email channel.
type EmailConfig struct {
	Recipient string         `mapstructure:"recipient" yaml:"recipient"`
	From      string         `mapstructure:"from" yaml:"from"`
	SMTP      SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	IMAP      IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Listener  ListenerConfig `mapstructure:"listener" yaml:"listener"`
}

// Settings converts the configuration into connector settings.
func (c EmailConfig) Settings() email.Settings {
	return email.Settings{
		SMTP: email.SMTPConfig{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			Secure:   c.SMTP.Secure,
		},
		IMAP: email.IMAPConfig{
			Host:     c.IMAP.Host,
			Port:     c.IMAP.Port,
			Username: c.IMAP.Username,
			Password: c.IMAP.Password,
			TLS:      c.IMAP.TLS,
			Insecure: c.IMAP.Insecure,
			Mailbox:  c.IMAP.Mailbox,
			TLSOptions: email.TLSOptions{
				ServerName:         c.IMAP.TLSOptions.ServerName,
				InsecureSkipVerify: c.IMAP.TLSOptions.InsecureSkipVerify,
			},
		},
		Recipient: c.Recipient,
		From:      c.From,
		Listener: email.ListenerConfig{
			PollInterval:         time.Duration(c.Listener.PollIntervalSec) * time.Second,
			ReconnectDelay:       time.Duration(c.Listener.ReconnectDelaySec) * time.Second,
			MaxReconnectAttempts: c.Listener.MaxReconnectAttempts,
			MaxContentChars:      c.Listener.MaxContentChars,
			MarkUnmatchedSeen:    c.Listener.MarkUnmatchedSeen,
		},
	}
}

// WebhookConfig configures the HTTP relay.
type WebhookConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AskConfig controls how long a question waits for its answer.
type AskConfig struct {
	// TimeoutSec of 0 waits indefinitely.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// AnswerPollIntervalSec is how often the store is checked for answers
	// recorded by another process.
	AnswerPollIntervalSec int `mapstructure:"answer_poll_interval_sec" yaml:"answer_poll_interval_sec"`
}

// RetentionConfig controls purging of finished tasks.
type RetentionConfig struct {
	// Schedule is a cron spec, e.g. "@every 1h" or "0 3 * * *".
	Schedule    string `mapstructure:"schedule" yaml:"schedule"`
	MaxAgeHours int    `mapstructure:"max_age_hours" yaml:"max_age_hours"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Channel   string          `mapstructure:"channel" yaml:"channel"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Ask       AskConfig       `mapstructure:"ask" yaml:"ask"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/humanloop/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultStorePath returns the default task database location.
func DefaultStorePath() string {
	return filepath.Join(configDir(), "humanloop.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "humanloop")
}

// setDefaults registers every key so that environment overrides apply
// even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("channel", "email")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.path", DefaultStorePath())

	v.SetDefault("email.recipient", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 465)
	v.SetDefault("email.smtp.secure", true)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.imap.host", "")
	v.SetDefault("email.imap.port", 993)
	v.SetDefault("email.imap.username", "")
	v.SetDefault("email.imap.password", "")
	v.SetDefault("email.imap.tls", true)
	v.SetDefault("email.imap.insecure", false)
	v.SetDefault("email.imap.mailbox", email.DefaultMailbox)
	v.SetDefault("email.imap.tls_options.server_name", "")
	v.SetDefault("email.imap.tls_options.insecure_skip_verify", false)
	v.SetDefault("email.listener.poll_interval_sec", int(email.DefaultPollInterval/time.Second))
	v.SetDefault("email.listener.reconnect_delay_sec", int(email.DefaultReconnectDelay/time.Second))
	v.SetDefault("email.listener.max_reconnect_attempts", email.DefaultMaxReconnectAttempts)
	v.SetDefault("email.listener.mark_unmatched_seen", false)
	v.SetDefault("email.listener.max_content_chars", email.DefaultMaxContentChars)

	v.SetDefault("webhook.addr", ":8080")
	v.SetDefault("ask.timeout_sec", 0)
	v.SetDefault("ask.answer_poll_interval_sec", 2)
	v.SetDefault("retention.schedule", "@every 1h")
	v.SetDefault("retention.max_age_hours", 168)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying HUMANLOOP_* environment overrides. A missing file yields the
// defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("channel", cfg.Channel)
	v.Set("log", cfg.Log)
	v.Set("store", cfg.Store)
	v.Set("email", cfg.Email)
	v.Set("webhook", cfg.Webhook)
	v.Set("ask", cfg.Ask)
	v.Set("retention", cfg.Retention)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
