package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TelephonyConfig holds the credentials and defaults for the outbound call
// placement driver and the inbound webhook signature check.
type TelephonyConfig struct {
	AccountSID        string
	AuthToken         string
	CallbackBaseURL   string
	WebhookSecret     string
	SupportPhone      string
	CallerIDByPurpose map[string]string
}

// DriverConfig names one speech-recognition or speech-synthesis driver and
// its credential/endpoint.
type DriverConfig struct {
	Name       string
	Endpoint   string
	Credential string
}

// ProvidersConfig is the priority-ordered speech driver configuration.
type ProvidersConfig struct {
	ASRPriority []string
	TTSPriority []string
	Drivers     map[string]DriverConfig
}

// BackendConfig points at the Core Backend collaborator.
type BackendConfig struct {
	BaseURL           string
	ServiceCredential string
	RequestTimeout    time.Duration
	OrderCacheTTL     time.Duration
	PartyCacheTTL     time.Duration
}

// CacheConfig holds the cache and session size ceilings.
type CacheConfig struct {
	MaxSessions           int
	SessionInactivityTTL  time.Duration
	TemplateCacheBytes    int64
	ProviderHealthWindow  time.Duration
	BackendCacheNamespace string
}

// RedisConfig is the connection info for pkg/redis.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// PostgresConfig is the connection info for the GORM escalation/call audit
// trail, the only locally persisted state this service owns.
type PostgresConfig struct {
	DSN string
}

// PubSubConfig is the production backend for the durable outbound queue,
// an alternative to the Redis-list backend used for local/dev.
type PubSubConfig struct {
	Enabled   bool
	ProjectID string
	TopicName string
}

// AdminAuthConfig secures the internal/admin surface with a
// service-to-service bearer credential, JWT per the ambient stack.
type AdminAuthConfig struct {
	BearerSecret string
}

// LLMConfig points at the external language-model collaborator used for
// free-form conversation turns.
type LLMConfig struct {
	Endpoint string
	APIKey   string
}

// Config is the assembled configuration for the whole process.
type Config struct {
	Port          string
	Env           string
	Telephony     TelephonyConfig
	Providers     ProvidersConfig
	Backend       BackendConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	PubSub        PubSubConfig
	AdminAuth     AdminAuthConfig
	LLM           LLMConfig
	DefaultLang   string
	DefaultVoice  string
	HTTPPoolLimit int
}

// Load assembles Config from the environment. godotenv.Load() is called in
// main.go before this runs, so a local .env file is already merged into the
// process environment by the time we read it here.
func Load() *Config {
	return &Config{
		Port: getEnvOrDefault("PORT", "8080"),
		Env:  getEnvOrDefault("ENV", "development"),

		Telephony: TelephonyConfig{
			AccountSID:      getEnvOrDefault("TELEPHONY_ACCOUNT_SID", ""),
			AuthToken:       getEnvOrDefault("TELEPHONY_AUTH_TOKEN", ""),
			CallbackBaseURL: getEnvOrDefault("TELEPHONY_CALLBACK_URL", ""),
			WebhookSecret:   getEnvOrDefault("TELEPHONY_WEBHOOK_SECRET", ""),
			SupportPhone:    getEnvOrDefault("SUPPORT_PHONE", ""),
			CallerIDByPurpose: map[string]string{
				"vendor.new_order":     getEnvOrDefault("CALLER_ID_VENDOR", ""),
				"vendor.reminder":      getEnvOrDefault("CALLER_ID_VENDOR", ""),
				"rider.assign":         getEnvOrDefault("CALLER_ID_RIDER", ""),
				"rider.address_update": getEnvOrDefault("CALLER_ID_RIDER", ""),
				"inbound.customer":     getEnvOrDefault("CALLER_ID_CUSTOMER", ""),
			},
		},

		Providers: ProvidersConfig{
			ASRPriority: splitAndTrimStrings(getEnvOrDefault("ASR_PRIORITY", "local,deepgram,google,azure"), ","),
			TTSPriority: splitAndTrimStrings(getEnvOrDefault("TTS_PRIORITY", "local,elevenlabs,deepgram,google,azure"), ","),
			Drivers: map[string]DriverConfig{
				"local": {
					Name:     "local",
					Endpoint: getEnvOrDefault("LOCAL_SPEECH_ENDPOINT", "http://localhost:9000"),
				},
				"deepgram": {
					Name:       "deepgram",
					Endpoint:   getEnvOrDefault("DEEPGRAM_ENDPOINT", "https://api.deepgram.com"),
					Credential: getEnvOrDefault("DEEPGRAM_API_KEY", ""),
				},
				"elevenlabs": {
					Name:       "elevenlabs",
					Endpoint:   getEnvOrDefault("ELEVENLABS_ENDPOINT", "https://api.elevenlabs.io"),
					Credential: getEnvOrDefault("ELEVENLABS_API_KEY", ""),
				},
				"google": {
					Name:       "google",
					Endpoint:   getEnvOrDefault("GOOGLE_SPEECH_ENDPOINT", "https://speech.googleapis.com"),
					Credential: getEnvOrDefault("GOOGLE_SPEECH_API_KEY", ""),
				},
				"azure": {
					Name:       "azure",
					Endpoint:   getEnvOrDefault("AZURE_SPEECH_ENDPOINT", ""),
					Credential: getEnvOrDefault("AZURE_SPEECH_KEY", ""),
				},
			},
		},

		Backend: BackendConfig{
			BaseURL:           getEnvOrDefault("BACKEND_BASE_URL", "http://localhost:8090"),
			ServiceCredential: getEnvOrDefault("BACKEND_SERVICE_CREDENTIAL", ""),
			RequestTimeout:    30 * time.Second,
			OrderCacheTTL:     30 * time.Second,
			PartyCacheTTL:     2 * time.Minute,
		},

		Cache: CacheConfig{
			MaxSessions:           getEnvAsIntOrDefault("MAX_CONCURRENT_SESSIONS", 10000),
			SessionInactivityTTL:  30 * time.Minute,
			TemplateCacheBytes:    getEnvAsInt64OrDefault("TEMPLATE_CACHE_BYTES", 256*1024*1024),
			ProviderHealthWindow:  30 * time.Second,
			BackendCacheNamespace: getEnvOrDefault("BACKEND_CACHE_NAMESPACE", "astra_comms"),
		},

		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
		},

		Postgres: PostgresConfig{
			DSN: getEnvOrDefault("POSTGRES_DSN", ""),
		},

		PubSub: PubSubConfig{
			Enabled:   getEnvAsBoolOrDefault("PUBSUB_ENABLED", false),
			ProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
			TopicName: getEnvOrDefault("PUBSUB_TOPIC", "astra-comms-outbound"),
		},

		AdminAuth: AdminAuthConfig{
			BearerSecret: getEnvOrDefault("ADMIN_BEARER_SECRET", ""),
		},

		LLM: LLMConfig{
			Endpoint: getEnvOrDefault("LLM_ENDPOINT", "http://localhost:9100"),
			APIKey:   getEnvOrDefault("LLM_API_KEY", ""),
		},

		DefaultLang:   getEnvOrDefault("DEFAULT_LANGUAGE", "hi"),
		DefaultVoice:  getEnvOrDefault("DEFAULT_VOICE", ""),
		HTTPPoolLimit: getEnvAsIntOrDefault("HTTP_POOL_PER_HOST", 64),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitAndTrimStrings(s, delimiter string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
