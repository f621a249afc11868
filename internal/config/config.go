package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// TimeZone is the IANA zone all time-of-day math runs in.
	TimeZone string

	// LedgerBackend selects where the delivery ledger and store live.
	LedgerBackend string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion       string
	SNSRegion       string // AWS region for SNS (mobile push)
	PushEndpointARN string // SNS platform endpoint of this device

	// Webhook delivery
	WebhookURL     string
	WebhookTimeout int // Timeout for webhook requests in seconds

	// Analytics export
	SQSRegion         string
	AnalyticsQueueURL string

	// Background loops
	ReconcileInterval time.Duration
	DispatchInterval  time.Duration

	// Nudge policy
	LedgerRetentionDays int
	DailyNudgeCap       int
	NudgeSpacingHours   int

	// GrantPermissions decides the answer of the in-process permission prompt.
	GrantPermissions bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		TimeZone:      "Local",
		LedgerBackend: BackendRedis,

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "nudge",
		DBPassword: "",
		DBName:     "nudge",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion: "us-east-1",

		ReconcileInterval: 15 * time.Minute,
		DispatchInterval:  5 * time.Second,

		LedgerRetentionDays: 30,
		DailyNudgeCap:       2,
		NudgeSpacingHours:   6,

		GrantPermissions: true,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if tz := os.Getenv("TZ_NAME"); tz != "" {
		cfg.TimeZone = tz
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME: %w", err)
	}

	if backend := os.Getenv("LEDGER_BACKEND"); backend != "" {
		switch backend {
		case BackendMemory, BackendRedis, BackendPostgres:
			cfg.LedgerBackend = backend
		default:
			return nil, fmt.Errorf("invalid LEDGER_BACKEND: %q", backend)
		}
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SNS config for mobile push
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if arn := os.Getenv("PUSH_ENDPOINT_ARN"); arn != "" {
		cfg.PushEndpointARN = arn
	}

	// Webhook config
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}

	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	} else {
		cfg.WebhookTimeout = 10 // default 10 seconds
	}

	// SQS config for analytics export
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("ANALYTICS_QUEUE_URL"); url != "" {
		cfg.AnalyticsQueueURL = url
	}

	if interval := os.Getenv("RECONCILE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid RECONCILE_INTERVAL: %q", interval)
		}
		cfg.ReconcileInterval = d
	}

	if interval := os.Getenv("DISPATCH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL: %q", interval)
		}
		cfg.DispatchInterval = d
	}

	if days := os.Getenv("LEDGER_RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid LEDGER_RETENTION_DAYS: %w", err)
		}
		cfg.LedgerRetentionDays = d
	}

	if limit := os.Getenv("DAILY_NUDGE_CAP"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid DAILY_NUDGE_CAP: %w", err)
		}
		cfg.DailyNudgeCap = n
	}

	if hours := os.Getenv("NUDGE_SPACING_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil {
			return nil, fmt.Errorf("invalid NUDGE_SPACING_HOURS: %w", err)
		}
		cfg.NudgeSpacingHours = h
	}

	if grant := os.Getenv("GRANT_PERMISSIONS"); grant != "" {
		g, err := strconv.ParseBool(grant)
		if err != nil {
			return nil, fmt.Errorf("invalid GRANT_PERMISSIONS: %w", err)
		}
		cfg.GrantPermissions = g
	}

	return cfg, nil
}

// Location resolves TimeZone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
