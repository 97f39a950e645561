package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veritel-ai/dialer-service/pkg/redis"
)

// Config holds all service configuration loaded from environment variables
type Config struct {
	Port        string
	Environment string

	// Admission control
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	DefaultCampaignCap      int
	CampaignCaps            map[string]int

	// Reconciler
	TerminalLinger time.Duration
	MailboxSize    int

	// Poller
	PollInterval time.Duration
	PollCeiling  time.Duration

	// Dispatcher
	DispatchRatePerSecond float64
	MaxDialRetries        int
	RetryDelay            time.Duration

	// Outcome mapping
	SIPMappingFile string

	// Provider endpoints
	SIPGatewayBaseURL string
	SIPGatewayAPIKey  string
	ARIBaseURL        string
	ARIUsername       string
	ARIPassword       string
	ARIAppName        string

	// Redis (optional; in-process fallbacks are used when absent)
	RedisEnabled bool
	Redis        redis.RedisConfig
}

// LoadConfigFromEnv loads configuration from environment variables with
// sensible defaults for local development.
func LoadConfigFromEnv() *Config {
	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		BreakerFailureThreshold: getEnvIntOrDefault("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getEnvDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second),
		DefaultCampaignCap:      getEnvIntOrDefault("DEFAULT_CAMPAIGN_CAP", 10),
		CampaignCaps:            parseCampaignCaps(os.Getenv("CAMPAIGN_CAPS")),

		TerminalLinger: getEnvDurationOrDefault("TERMINAL_LINGER", 30*time.Second),
		MailboxSize:    getEnvIntOrDefault("CALL_MAILBOX_SIZE", 32),

		PollInterval: getEnvDurationOrDefault("POLL_INTERVAL", 5*time.Second),
		PollCeiling:  getEnvDurationOrDefault("POLL_CEILING", 120*time.Second),

		DispatchRatePerSecond: getEnvFloatOrDefault("DISPATCH_RATE_PER_SECOND", 10),
		MaxDialRetries:        getEnvIntOrDefault("MAX_DIAL_RETRIES", 3),
		RetryDelay:            getEnvDurationOrDefault("DIAL_RETRY_DELAY", 2*time.Second),

		SIPMappingFile: os.Getenv("SIP_MAPPING_FILE"),

		SIPGatewayBaseURL: getEnvOrDefault("SIP_GATEWAY_BASE_URL", "http://localhost:9060"),
		SIPGatewayAPIKey:  os.Getenv("SIP_GATEWAY_API_KEY"),
		ARIBaseURL:        getEnvOrDefault("ARI_BASE_URL", "http://localhost:8088"),
		ARIUsername:       getEnvOrDefault("ARI_USERNAME", "asterisk"),
		ARIPassword:       os.Getenv("ARI_PASSWORD"),
		ARIAppName:        getEnvOrDefault("ARI_APP_NAME", "dialer"),

		RedisEnabled: getEnvBoolOrDefault("REDIS_ENABLED", false),
		Redis: redis.RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
	}
}

// parseCampaignCaps parses "campaign-a=5,campaign-b=20" into a cap map.
// Malformed entries are skipped.
func parseCampaignCaps(raw string) map[string]int {
	caps := make(map[string]int)
	if raw == "" {
		return caps
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			continue
		}
		caps[parts[0]] = n
	}
	return caps
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
