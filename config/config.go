package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Redis (rate-limit counters)
	RedisAddr     string
	RedisPassword string

	// AMQP (domain events), empty disables publishing
	AMQPURL       string
	EventExchange string

	// Security
	JWTSecret string

	// Server
	Port           string
	TrustedProxies []string

	// Admission
	DailyReportCap    int
	Cooldown          time.Duration
	FreshnessWindow   time.Duration
	DuplicateRadiusM  float64
	DuplicateWindow   time.Duration
	MaxDescriptionLen int

	// Per-IP rate limiting
	IPRateLimit  int
	IPRateWindow time.Duration

	// Verification
	GeofenceRadiusM float64
	MinTaskMinutes  float64
	MaxTaskMinutes  float64

	// Worker zones, GeoJSON FeatureCollection path, empty disables zone filters
	ZonesFile string

	// Points reconciliation
	ReconcileInterval time.Duration
}

func Load() *Config {
	return &Config{
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     getEnv("DB_NAME", "cleanspot"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AMQPURL:       getEnv("AMQP_URL", ""),
		EventExchange: getEnv("EVENT_EXCHANGE", "cleanspot-events"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		Port:           getEnv("PORT", "8080"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		DailyReportCap:    getEnvInt("DAILY_REPORT_CAP", 10),
		Cooldown:          getEnvMinutes("COOLDOWN_MINUTES", 5),
		FreshnessWindow:   getEnvMinutes("FRESHNESS_WINDOW_MINUTES", 5),
		DuplicateRadiusM:  getEnvFloat("DUPLICATE_RADIUS_METERS", 50),
		DuplicateWindow:   getEnvHours("DUPLICATE_WINDOW_HOURS", 24),
		MaxDescriptionLen: getEnvInt("MAX_DESCRIPTION_LEN", 500),

		IPRateLimit:  getEnvInt("IP_RATE_LIMIT", 30),
		IPRateWindow: getEnvMinutes("IP_RATE_WINDOW_MINUTES", 1),

		GeofenceRadiusM: getEnvFloat("GEOFENCE_RADIUS_METERS", 50),
		MinTaskMinutes:  getEnvFloat("MIN_TASK_MINUTES", 2),
		MaxTaskMinutes:  getEnvFloat("MAX_TASK_MINUTES", 240),

		ZonesFile: getEnv("ZONES_FILE", ""),

		ReconcileInterval: getEnvMinutes("RECONCILE_INTERVAL_MINUTES", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvMinutes(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Minute
}

func getEnvHours(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Hour
}
