package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	UseMemoryQueue  bool
	WorkerCount     int
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	DefaultTimezone string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	ConversationQueueURL string
	ReplyQueueURL        string

	LLMProvider        string
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModel        string
	LLMFallbackEnabled bool
	LLMTimeout         time.Duration
	LLMMaxRetries      int
	LLMRetryBaseDelay  time.Duration

	InactivityWindow      time.Duration
	FirstVisitDelayDays   int
	SlotDurationMinutes   int
	MaxSuggestedSlots     int
	SlotSearchDays        int
	MaxRegenerateAttempts int
	TurnLockTTL           time.Duration
	TurnLockWait          time.Duration
	DecisionMemorySize    int
	DecisionMemoryTTL     time.Duration

	CalendarProvider              string
	GoogleCalendarCredentialsFile string

	EmailProvider       string
	SESFromEmail        string
	SESFromName         string
	SESConfigurationSet string
	SendGridAPIKey      string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		DefaultTimezone: getEnv("DEFAULT_CLINIC_TIMEZONE", "Europe/Paris"),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-3"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		ReplyQueueURL:        getEnv("REPLY_QUEUE_URL", ""),

		LLMProvider:        strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMFallbackEnabled: getEnvAsBool("LLM_FALLBACK_ENABLED", false),
		LLMTimeout:         getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),
		LLMMaxRetries:      getEnvAsInt("LLM_MAX_RETRIES", 3),
		LLMRetryBaseDelay:  getEnvAsDuration("LLM_RETRY_BASE_DELAY", 500*time.Millisecond),

		InactivityWindow:      getEnvAsDuration("CONVERSATION_INACTIVITY_WINDOW", 15*time.Minute),
		FirstVisitDelayDays:   getEnvAsInt("FIRST_VISIT_BOOKING_DELAY_DAYS", 2),
		SlotDurationMinutes:   getEnvAsInt("SLOT_DURATION_MINUTES", 30),
		MaxSuggestedSlots:     getEnvAsInt("MAX_SUGGESTED_SLOTS", 6),
		SlotSearchDays:        getEnvAsInt("SLOT_SEARCH_DAYS", 14),
		MaxRegenerateAttempts: getEnvAsInt("MAX_REGENERATE_ATTEMPTS", 3),
		TurnLockTTL:           getEnvAsDuration("TURN_LOCK_TTL", 30*time.Second),
		TurnLockWait:          getEnvAsDuration("TURN_LOCK_WAIT", 10*time.Second),
		DecisionMemorySize:    getEnvAsInt("DECISION_MEMORY_SIZE", 10),
		DecisionMemoryTTL:     getEnvAsDuration("DECISION_MEMORY_TTL", 24*time.Hour),

		CalendarProvider:              strings.ToLower(strings.TrimSpace(getEnv("CALENDAR_PROVIDER", "google"))),
		GoogleCalendarCredentialsFile: getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESFromName:         getEnv("SES_FROM_NAME", "Sophie"),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
