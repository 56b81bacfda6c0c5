package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	DBUrl     string
	JWTSecret string

	SchoolAPIURL     string
	SchoolAPITimeout time.Duration

	CalendarPath string
	CalendarCron string
	Timezone     string

	SessionBackend  string // memory, db or redis
	RedisAddr       string
	RedisPassword   string
	CookieMaxAge    time.Duration
	CookieSecure    bool
	ResolverIdleTTL time.Duration

	DevAPIAddr     string
	DevAPIPassword string
}

func Load() *Config {
	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8000"),
		DBUrl:     getEnv("DATABASE_URL", ""),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),

		SchoolAPIURL:     strings.TrimRight(getEnv("SCHOOL_API_URL", "http://localhost:8090"), "/"),
		SchoolAPITimeout: getEnvDuration("SCHOOL_API_TIMEOUT", 10*time.Second),

		CalendarPath: getEnv("CALENDAR_PATH", "calendar.xlsx"),
		CalendarCron: getEnv("CALENDAR_CRON", "@daily"),
		Timezone:     getEnv("TIMEZONE", "Local"),

		SessionBackend:  strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		CookieMaxAge:    getEnvDuration("COOKIE_MAX_AGE", 7*24*time.Hour),
		CookieSecure:    getEnvBool("COOKIE_SECURE", true),
		ResolverIdleTTL: getEnvDuration("RESOLVER_IDLE_TTL", 30*time.Minute),

		DevAPIAddr:     getEnv("DEVAPI_ADDR", ":8090"),
		DevAPIPassword: getEnv("DEVAPI_PASSWORD", "password"),
	}
}

// Location resolves Timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	if value, ok := os.LookupEnv(key + "_SECONDS"); ok {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
