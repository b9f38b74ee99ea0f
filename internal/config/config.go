package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StaleAfter       time.Duration
	SearchRadiusKm   float64
	SearchMaxResults int

	RoundWindow  time.Duration
	RoundMinBids int

	PushEndpoint string
	OrderSource  string
	GeminiAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "couriers_geo",
		KafkaTopic:       "courier-locations",
		StaleAfter:       5 * time.Minute,
		SearchRadiusKm:   15,
		SearchMaxResults: 10,
		RoundWindow:      30 * time.Second,
		RoundMinBids:     3,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.StaleAfter, "LOCATION_STALE_AFTER", &errs)
	setFloatFromEnv(&cfg.SearchRadiusKm, "SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.SearchMaxResults, "SEARCH_MAX_RESULTS", &errs)

	setDurationFromEnv(&cfg.RoundWindow, "ROUND_WINDOW", &errs)
	setIntFromEnv(&cfg.RoundMinBids, "ROUND_MIN_BIDS", &errs)

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setStringFromEnv(&cfg.OrderSource, "ORDER_SOURCE_URL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_STALE_AFTER must be > 0"))
	}
	if cfg.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADIUS_KM must be > 0"))
	}
	if cfg.RoundWindow <= 0 {
		errs = append(errs, fmt.Errorf("ROUND_WINDOW must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
