package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	AppName               = "tasks"
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "tasks.db"
	DefaultLogName        = "tasks.log"
)

type Keymap struct {
	Quit    string `toml:"quit"`
	Add     string `toml:"add"`
	Up      string `toml:"up"`
	Down    string `toml:"down"`
	Delete  string `toml:"delete"`
	Edit    string `toml:"edit"`
	Confirm string `toml:"confirm"`
	Cancel  string `toml:"cancel"`
	Next    string `toml:"next"`
	Prev    string `toml:"prev"`
}

// Preferences seed the editor when it creates a new task.
type Preferences struct {
	DefaultTitle string `toml:"default_title"`
	// DefaultTimeFromNow is a number of minutes. Empty means "now".
	DefaultTimeFromNow string `toml:"default_time_from_now"`
}

type Reminders struct {
	PollInterval string `toml:"poll_interval"`
	Bell         bool   `toml:"bell"`
}

type Google struct {
	Enabled     bool   `toml:"enabled"`
	ListID      string `toml:"list_id"`
	OAuthClient string `toml:"oauth_client"`
	Token       string `toml:"token"`
}

type Config struct {
	DBPath      string      `toml:"db_path"`
	Debug       bool        `toml:"debug"`
	LogPath     string      `toml:"log_path"`
	Preferences Preferences `toml:"preferences"`
	Reminders   Reminders   `toml:"reminders"`
	Google      Google      `toml:"google"`
	Keys        Keymap      `toml:"keys"`
}

// ResolveConfigPath picks the config file: $TASKS_CONFIG, then
// $XDG_CONFIG_HOME/tasks, then ~/.config/tasks.
func ResolveConfigPath() string {
	if p := os.Getenv("TASKS_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultConfigDir(), DefaultConfigFileName)
}

func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// LoadOrCreate reads the config at path, writing the defaults there first
// if the file does not exist. Relative paths inside the file are resolved
// against the config directory. Environment overrides are applied last.
func LoadOrCreate(path string) (Config, error) {
	dir := filepath.Dir(path)
	cfg := defaultConfig(dir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, applyEnv(&cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	cfg.DBPath = resolve(dir, cfg.DBPath)
	cfg.LogPath = resolve(dir, cfg.LogPath)
	cfg.Google.OAuthClient = resolve(dir, cfg.Google.OAuthClient)
	cfg.Google.Token = resolve(dir, cfg.Google.Token)
	return cfg, applyEnv(&cfg)
}

// LoadDotEnv loads .env from the working directory if one exists.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TASKS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("TASKS_DEFAULT_TITLE"); ok {
		cfg.Preferences.DefaultTitle = v
	}
	if v, ok := os.LookupEnv("TASKS_DEFAULT_TIME_FROM_NOW"); ok {
		cfg.Preferences.DefaultTimeFromNow = v
	}
	if v := os.Getenv("TASKS_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TASKS_DEBUG: %w", err)
		}
		cfg.Debug = debug
	}
	return nil
}

// DefaultOffset returns the preferred distance between now and the due
// time of a new task.
func (p Preferences) DefaultOffset() (time.Duration, error) {
	v := strings.TrimSpace(p.DefaultTimeFromNow)
	if v == "" {
		return 0, nil
	}
	mins, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("default_time_from_now: %w", err)
	}
	return time.Duration(mins) * time.Minute, nil
}

func (r Reminders) Interval() time.Duration {
	d, err := time.ParseDuration(r.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "file:") {
		return p
	}
	return filepath.Join(dir, p)
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig(dir string) Config {
	return Config{
		DBPath:  filepath.Join(dir, DefaultDBName),
		LogPath: filepath.Join(dir, DefaultLogName),
		Reminders: Reminders{
			PollInterval: "1s",
			Bell:         true,
		},
		Google: Google{
			ListID:      "@default",
			OAuthClient: filepath.Join(dir, "oauth_client.json"),
			Token:       filepath.Join(dir, "token.json"),
		},
		Keys: Keymap{
			Quit:    "q",
			Add:     "a",
			Up:      "k",
			Down:    "j",
			Delete:  "d",
			Edit:    "e",
			Confirm: "enter",
			Cancel:  "esc",
			Next:    "tab",
			Prev:    "shift+tab",
		},
	}
}
