package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/data"
	"gorm.io/gorm"
)

// Base contains the settings needed before the database is reachable.
type Base struct {
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	LogLevel    string
	LogFormat   string
}

// LoadEnv reads .env style files into the process environment. Variables
// that are already set win. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// LoadBase loads the bootstrap configuration from the environment.
func LoadBase() Base {
	return Base{
		DatabaseURL: GetSetting("database_url", "DATABASE_URL", data.DefaultDatabaseURL),
		RedisURL:    GetSetting("redis_url", "REDIS_URL", ""),
		NATSURL:     GetSetting("nats_url", "NATS_URL", ""),
		LogLevel:    GetSetting("log_level", "LOG_LEVEL", "info"),
		LogFormat:   GetSetting("log_format", "LOG_FORMAT", "text"),
	}
}

// refreshSettings reloads the settings cache when a database is available.
// On failure the previous cache and env fallbacks stay in effect.
func refreshSettings(db *gorm.DB) {
	if db == nil {
		return
	}
	if err := data.LoadSettings(db); err != nil {
		logrus.WithError(err).WithField("component", "config").Warn("reload settings from database, keeping cached values")
	}
}

// GetSetting retrieves a setting with env fallback
func GetSetting(name, envKey, defaultValue string) string {
	val := data.GetSetting(name)
	if val == "" {
		val = os.Getenv(envKey)
	}
	if val == "" {
		val = defaultValue
	}
	return strings.TrimSpace(val)
}

func getBoolSetting(name, envKey string, defaultValue bool) bool {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getIntSetting(name, envKey string, defaultValue int) int {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return val
}

func getFloatSetting(name, envKey string, defaultValue float64) float64 {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// getSecondsSetting reads a duration written as (possibly fractional) seconds.
func getSecondsSetting(name, envKey string, defaultValue time.Duration) time.Duration {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return defaultValue
	}
	return time.Duration(secs * float64(time.Second))
}

func parseCSV(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
