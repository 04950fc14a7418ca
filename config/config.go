// Package config loads application settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config groups the application settings.
type Config struct {
	App    AppConfig
	DB     DBConfig
	HTTP   HTTPConfig
	Log    LogConfig
	Ledger LedgerConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env  string // development, production
	Name string
}

// DBConfig points at the local SQLite data file.
type DBConfig struct {
	Path string
}

// HTTPConfig holds the local bridge listener.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level string // trace, debug, info, warn, error
}

// LedgerConfig holds stock ledger behaviour switches.
type LedgerConfig struct {
	AllowNegativeAdjustments bool
	DisplayTimeFormat        string
	TimeZone                 string        // IANA name; empty or "Local" means the host zone
	VerifyInterval           time.Duration // background ledger verification; 0 disables
}

// Location resolves TimeZone.
func (c LedgerConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Load reads settings from environment variables. A .env file, when present,
// fills in variables that are not already set; real env vars win.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path. Missing files are ignored;
// unreadable or malformed ones are an error.
func LoadFrom(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already in the environment.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	allowNeg, err := getBool(v, "LEDGER_ALLOW_NEGATIVE_ADJUSTMENTS", false)
	if err != nil {
		return nil, err
	}
	port, err := getInt(v, "HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	verifyEvery, err := getDuration(v, "LEDGER_VERIFY_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "stock-engine"),
		},
		DB: DBConfig{
			Path: getString(v, "DB_PATH", "./stock.db"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "127.0.0.1"),
			Port: port,
		},
		Log: LogConfig{
			Level: getString(v, "LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			AllowNegativeAdjustments: allowNeg,
			DisplayTimeFormat:        getString(v, "LEDGER_DISPLAY_TIME_FORMAT", "02/01/2006 15:04"),
			TimeZone:                 getString(v, "LEDGER_TIME_ZONE", "Local"),
			VerifyInterval:           verifyEvery,
		},
	}

	if _, err := cfg.Ledger.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			return s
		}
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) (int, error) {
	s := getString(v, key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func getBool(v *viper.Viper, key string, def bool) (bool, error) {
	s := getString(v, key, "")
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func getDuration(v *viper.Viper, key string, def time.Duration) (time.Duration, error) {
	s := getString(v, key, "")
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative duration such as 30m", key, s)
	}
	return d, nil
}
