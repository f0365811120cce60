package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendAWS    = "aws"
	BackendMemory = "memory"
)

// Config holds the process configuration, read from the environment.
type Config struct {
	Addr    string
	Backend string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	Bucket     string
	Table      string
	OwnerIndex string
	MediaIndex string

	CognitoClientID string

	DatabaseURL string

	MaxUploadBytes int64
	PollInterval   time.Duration
	LanguageCode   string
	JobTTL         time.Duration
	CookieSecure   bool

	ViewerAnchorPolicy string
	DetailAnchorPolicy string
}

// Load reads the configuration from the environment, after loading any
// .env files found by LoadDefaultEnv.
func Load() (Config, error) {
	LoadDefaultEnv()

	cfg := Config{
		Addr:               envOrDefault("APP_ADDR", ":8080"),
		Backend:            strings.ToLower(envOrDefault("STORE_BACKEND", BackendAWS)),
		AWSRegion:          envOrDefault("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Bucket:             envOrDefault("S3_BUCKET", "vocalytics-bucket"),
		Table:              envOrDefault("DYNAMO_TABLE", "vocalytics-dbms"),
		OwnerIndex:         envOrDefault("DYNAMO_OWNER_INDEX", "Username-index"),
		MediaIndex:         envOrDefault("DYNAMO_MEDIA_INDEX", "mediaID-index"),
		CognitoClientID:    os.Getenv("COGNITO_CLIENT_ID"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MaxUploadBytes:     envInt64OrDefault("MAX_UPLOAD_BYTES", 500*1024*1024),
		PollInterval:       envDurationOrDefault("POLL_INTERVAL", time.Second),
		LanguageCode:       envOrDefault("LANGUAGE_CODE", "en-US"),
		JobTTL:             envDurationOrDefault("JOB_TTL", 2*time.Hour),
		CookieSecure:       envBoolOrDefault("COOKIE_SECURE", false),
		ViewerAnchorPolicy: envOrDefault("VIEWER_ANCHOR_POLICY", "timegap:180s"),
		DetailAnchorPolicy: envOrDefault("DETAIL_ANCHOR_POLICY", "index:106"),
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAWS:
		if c.CognitoClientID == "" {
			return fmt.Errorf("COGNITO_CLIENT_ID is required with the %s backend", BackendAWS)
		}
		if c.Bucket == "" || c.Table == "" {
			return fmt.Errorf("S3_BUCKET and DYNAMO_TABLE are required with the %s backend", BackendAWS)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt64OrDefault(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoolOrDefault(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
