/*
Package config loads oantfy settings from a YAML file, an optional .env file and
OANTFY_* environment variables, in that order of precedence (last wins).
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/shanehull/oantfy/internal/extract"
	"github.com/shanehull/oantfy/internal/history"
	"github.com/shanehull/oantfy/internal/types"
)

const envPrefix = "OANTFY_"

// Mode selects which settings are required.
type Mode string

const (
	ModeDaemon     Mode = "daemon"
	ModeListLabels Mode = "list-labels"
	ModeAuthorize  Mode = "authorize"
)

type Config struct {
	Gmail              GmailConfig  `yaml:"gmail"`
	NotificationFormat types.Format `yaml:"notification_format"`
	// SleepTime is the poll interval in seconds.
	SleepTime           float64     `yaml:"sleep_time"`
	Ntfy                NtfyConfig  `yaml:"ntfy"`
	PositionOpenRegex   string      `yaml:"position_open_regex"`
	PositionClosedRegex string      `yaml:"position_closed_regex"`
	DryRun              bool        `yaml:"dry_run"`
	Store               StoreConfig `yaml:"store"`
	Log                 LogConfig   `yaml:"log"`
}

type GmailConfig struct {
	LabelID         string `yaml:"label_id"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	UserID          string `yaml:"user_id"`
}

type NtfyConfig struct {
	Server         string        `yaml:"server"`
	TopicName      string        `yaml:"topic_name"`
	ProtectedTopic bool          `yaml:"protected_topic"`
	BearerToken    string        `yaml:"bearer_token"`
	Timeout        time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads .env (if present) and the YAML file at path (if present), fills
// defaults and applies environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg, err = applyEnv(cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.Gmail.CredentialsFile == "" {
		cfg.Gmail.CredentialsFile = "client_secret.json"
	}
	if cfg.Gmail.TokenFile == "" {
		cfg.Gmail.TokenFile = "gmail_token.json"
	}
	if cfg.Gmail.UserID == "" {
		cfg.Gmail.UserID = "me"
	}
	if cfg.NotificationFormat == "" {
		cfg.NotificationFormat = types.FormatMarkdown
	}
	if cfg.SleepTime == 0 {
		cfg.SleepTime = 60
	}
	if cfg.Ntfy.Server == "" {
		cfg.Ntfy.Server = "https://ntfy.sh"
	}
	if cfg.PositionOpenRegex == "" {
		cfg.PositionOpenRegex = extract.DefaultOpenPattern
	}
	if cfg.PositionClosedRegex == "" {
		cfg.PositionClosedRegex = extract.DefaultClosedPattern
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = history.DriverFile
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "db.json"
	}
	if cfg.Store.RedisKey == "" {
		cfg.Store.RedisKey = history.DefaultRedisKey
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg
}

func applyEnv(cfg Config) (Config, error) {
	var errs []string

	setString := func(key string, dst *string) {
		if val := os.Getenv(envPrefix + key); val != "" {
			*dst = val
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(envPrefix + key); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid %s%s: %q", envPrefix, key, val))
				return
			}
			*dst = b
		}
	}

	setString("GMAIL_LABEL_ID", &cfg.Gmail.LabelID)
	setString("GMAIL_CREDENTIALS_FILE", &cfg.Gmail.CredentialsFile)
	setString("GMAIL_TOKEN_FILE", &cfg.Gmail.TokenFile)
	setString("GMAIL_USER_ID", &cfg.Gmail.UserID)

	if val := os.Getenv(envPrefix + "NOTIFICATION_FORMAT"); val != "" {
		cfg.NotificationFormat = types.Format(val)
	}
	if val := os.Getenv(envPrefix + "SLEEP_TIME"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.SleepTime = f
		} else {
			errs = append(errs, fmt.Sprintf("invalid %sSLEEP_TIME: %q", envPrefix, val))
		}
	}

	setString("NTFY_SERVER", &cfg.Ntfy.Server)
	setString("NTFY_TOPIC_NAME", &cfg.Ntfy.TopicName)
	setBool("NTFY_PROTECTED_TOPIC", &cfg.Ntfy.ProtectedTopic)
	setString("NTFY_BEARER_TOKEN", &cfg.Ntfy.BearerToken)
	if val := os.Getenv(envPrefix + "NTFY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Ntfy.Timeout = d
		} else {
			errs = append(errs, fmt.Sprintf("invalid %sNTFY_TIMEOUT: %q", envPrefix, val))
		}
	}

	setString("POSITION_OPEN_REGEX", &cfg.PositionOpenRegex)
	setString("POSITION_CLOSED_REGEX", &cfg.PositionClosedRegex)
	setBool("DRY_RUN", &cfg.DryRun)

	setString("STORE_DRIVER", &cfg.Store.Driver)
	setString("STORE_PATH", &cfg.Store.Path)
	setString("STORE_REDIS_URL", &cfg.Store.RedisURL)
	setString("STORE_REDIS_KEY", &cfg.Store.RedisKey)

	setString("LOG_LEVEL", &cfg.Log.Level)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("configuration environment invalid: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate reports every setting that is missing or invalid for mode.
func (c *Config) Validate(mode Mode) error {
	var errs []string

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}
	if c.Gmail.CredentialsFile == "" {
		errs = append(errs, "gmail.credentials_file must be set")
	}
	if c.Gmail.TokenFile == "" {
		errs = append(errs, "gmail.token_file must be set")
	}

	switch mode {
	case ModeListLabels, ModeAuthorize:
	case ModeDaemon:
		errs = append(errs, c.validateDaemon()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDaemon() []string {
	var errs []string

	if c.Gmail.LabelID == "" {
		errs = append(errs, "gmail.label_id must be set")
	}
	if !c.NotificationFormat.Valid() {
		errs = append(errs, fmt.Sprintf("notification_format %q must be plaintext or markdown", c.NotificationFormat))
	}
	if c.SleepTime <= 0 {
		errs = append(errs, "sleep_time must be positive")
	}
	if !c.DryRun {
		if c.Ntfy.TopicName == "" {
			errs = append(errs, "ntfy.topic_name must be set")
		}
		if c.Ntfy.ProtectedTopic && c.Ntfy.BearerToken == "" {
			errs = append(errs, "ntfy.bearer_token must be set for a protected topic")
		}
	}
	if c.Ntfy.Timeout < 0 {
		errs = append(errs, "ntfy.timeout cannot be negative")
	}
	if _, err := extract.NewMatcher(c.PositionOpenRegex, c.PositionClosedRegex); err != nil {
		errs = append(errs, err.Error())
	}

	switch c.Store.Driver {
	case history.DriverFile, history.DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path must be set")
		}
	case history.DriverRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, "store.redis_url must be set for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be file, sqlite or redis", c.Store.Driver))
	}

	return errs
}

// SleepInterval is the poll interval as a duration.
func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepTime * float64(time.Second))
}
