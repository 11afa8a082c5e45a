package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RunMigrations           bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	RestockReportTTLSeconds int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	LogLevel                string
	LogFormat               string
	BootstrapAdminUsername  string
	BootstrapAdminPassword  string
}

// Load reads the process environment. Numeric values that fail to parse or
// are out of range fall back to their defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("BOOTSTRAP_ADMIN_USERNAME", "admin")

	cfg := Config{
		Port:                    nonEmpty(v.GetString("PORT"), "8080"),
		AllowedOrigin:           nonEmpty(v.GetString("ALLOWED_ORIGIN"), "http://127.0.0.1:3000"),
		DatabaseURL:             strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:           v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:               strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 intOr(v, "REDIS_DB", 0, 0),
		RestockReportTTLSeconds: intOr(v, "RESTOCK_REPORT_TTL_SECONDS", 60, 1),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   intOr(v, "ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		LogLevel:                nonEmpty(v.GetString("LOG_LEVEL"), "info"),
		LogFormat:               nonEmpty(v.GetString("LOG_FORMAT"), "json"),
		BootstrapAdminUsername:  nonEmpty(v.GetString("BOOTSTRAP_ADMIN_USERNAME"), "admin"),
		BootstrapAdminPassword:  strings.TrimSpace(v.GetString("BOOTSTRAP_ADMIN_PASSWORD")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func nonEmpty(val string, fallback string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return fallback
	}
	return val
}

// intOr avoids viper.GetInt, which silently turns garbage into 0.
func intOr(v *viper.Viper, key string, fallback int, min int) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return fallback
	}
	return n
}
