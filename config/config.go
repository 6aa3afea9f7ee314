package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabasePath string `yaml:"database_path"`
	TimezoneName string `yaml:"timezone"`
	ServerPort   string `yaml:"server_port"`

	APIUsername string `yaml:"api_username"`
	APIPassword string `yaml:"api_password"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	// NotificationsEnabled is the process-wide permission to arm alerts.
	NotificationsEnabled bool `yaml:"notifications_enabled"`

	// RestoreSweep is a cron spec for a periodic restore pass; empty disables it.
	RestoreSweep string `yaml:"restore_sweep"`

	CalDAV CalDAVConfig `yaml:"caldav"`

	Debug bool `yaml:"debug"`

	Timezone *time.Location `yaml:"-"`
}

type CalDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"`
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath:         "./data/packreminder.db",
		ServerPort:           "8080",
		NotificationsEnabled: true,
		RestoreSweep:         "*/30 * * * *",
	}
}

// Normalize fills zero values and resolves the time zone. An empty zone
// means the machine's local time.
func (c *Config) Normalize() error {
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/packreminder.db"
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}

	if c.TimezoneName == "" {
		c.Timezone = time.Local
		return nil
	}
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Timezone = tz
	return nil
}

// Load reads an optional .env, then the YAML file at path (or
// $REMINDER_CONFIG), then environment overrides. Missing files are fine.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("REMINDER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.TimezoneName, "TIMEZONE")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.APIUsername, "API_USERNAME")
	setString(&c.APIPassword, "API_PASSWORD")
	setString(&c.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.RestoreSweep, "RESTORE_SWEEP")
	setString(&c.CalDAV.URL, "CALDAV_URL")
	setString(&c.CalDAV.Username, "CALDAV_USERNAME")
	setString(&c.CalDAV.Password, "CALDAV_PASSWORD")
	setString(&c.CalDAV.Calendar, "CALDAV_CALENDAR")

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID must be a number")
		}
		c.TelegramChatID = id
	}
	if err := setBool(&c.NotificationsEnabled, "NOTIFICATIONS_ENABLED"); err != nil {
		return err
	}
	return setBool(&c.Debug, "DEBUG")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	*dst = b
	return nil
}

// TelegramEnabled reports whether fired reminders go to a Telegram chat.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
