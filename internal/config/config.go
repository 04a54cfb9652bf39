package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppRegistryItem describes one registered app: the Android package it owns,
// the subscription products it may verify, and an optional backend webhook.
type AppRegistryItem struct {
	PackageName     string   `json:"package_name"`
	SubscriptionIDs []string `json:"subscription_ids"`
	WebhookURL      string   `json:"webhook_url"`
	WebhookSecret   string   `json:"webhook_secret"`
}

// AllowsSubscription reports whether subscriptionID is permitted for this app.
func (a *AppRegistryItem) AllowsSubscription(subscriptionID string) bool {
	for _, id := range a.SubscriptionIDs {
		if id == subscriptionID {
			return true
		}
	}
	return false
}

type Config struct {
	// Server configuration
	AppName     string
	Environment string
	Port        string
	Mode        string

	// Database configuration
	DatabaseURL string

	// Redis configuration (optional outcome-cache fast path)
	RedisURL string

	// Google Play configuration
	GoogleServiceAccount []byte
	GoogleTimeoutSeconds int
	GoogleRetries        int

	// App registry and client keys
	AppRegistry map[string]*AppRegistryItem
	ClientKeys  map[string][]string

	// Token fingerprinting
	PurchaseTokenHashPepper string

	// Verification cache
	CacheTTLMinutes int

	// Rate limits (per minute, sliding window)
	RateLimitIPPerMinute    int
	RateLimitUserPerMinute  int
	RateLimitTokenPerMinute int

	// Persistence policy
	StoreRawGoogleResponse bool
	AutoMigrate            bool
}

var AppConfig *Config

// InitConfig loads configuration from the environment into AppConfig.
func InitConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	cfg := &Config{
		AppName:                 getEnv("APP_NAME", "billing-verify"),
		Environment:             getEnv("ENVIRONMENT", "production"),
		Port:                    getEnv("PORT", "8080"),
		Mode:                    getEnv("GIN_MODE", "release"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		GoogleTimeoutSeconds:    getEnvInt("GOOGLE_TIMEOUT_SECONDS", 8),
		GoogleRetries:           getEnvInt("GOOGLE_RETRIES", 1),
		PurchaseTokenHashPepper: getEnv("PURCHASE_TOKEN_HASH_PEPPER", ""),
		CacheTTLMinutes:         getEnvInt("CACHE_TTL_MINUTES", 10),
		RateLimitIPPerMinute:    getEnvInt("RATE_LIMIT_IP_PER_MINUTE", 60),
		RateLimitUserPerMinute:  getEnvInt("RATE_LIMIT_USER_PER_MINUTE", 30),
		RateLimitTokenPerMinute: getEnvInt("RATE_LIMIT_TOKEN_PER_MINUTE", 10),
		StoreRawGoogleResponse:  getEnvBool("STORE_RAW_GOOGLE_RESPONSE", true),
		AutoMigrate:             getEnvBool("AUTO_MIGRATE", true),
	}

	if cfg.PurchaseTokenHashPepper == "" {
		return nil, fmt.Errorf("PURCHASE_TOKEN_HASH_PEPPER is not set")
	}

	registry, err := ParseAppRegistry(os.Getenv("APP_REGISTRY_JSON"))
	if err != nil {
		return nil, err
	}
	cfg.AppRegistry = registry

	keys, err := ParseClientKeys(os.Getenv("CLIENT_KEYS_JSON"))
	if err != nil {
		return nil, err
	}
	cfg.ClientKeys = keys

	creds, err := ResolveServiceAccount(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	if err != nil {
		return nil, err
	}
	cfg.GoogleServiceAccount = creds

	return cfg, nil
}

// GetApp returns the registry entry for appID, or nil if it is not registered.
func (c *Config) GetApp(appID string) *AppRegistryItem {
	return c.AppRegistry[appID]
}

// GetClientKeys returns the configured client keys for appID. An empty result
// means client-key enforcement is disabled for that app. Falls back to the
// "*" and "shared" entries.
func (c *Config) GetClientKeys(appID string) []string {
	if len(c.ClientKeys) == 0 {
		return nil
	}
	if keys := c.ClientKeys[appID]; len(keys) > 0 {
		return keys
	}
	if keys := c.ClientKeys["*"]; len(keys) > 0 {
		return keys
	}
	return c.ClientKeys["shared"]
}

// ParseAppRegistry parses APP_REGISTRY_JSON. The registry must be a non-empty
// object mapping app_id to its configuration; "subscriptions" is accepted as
// a legacy alias for "subscription_ids".
func ParseAppRegistry(raw string) (map[string]*AppRegistryItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("APP_REGISTRY_JSON is not set")
	}

	var entries map[string]struct {
		PackageName     string   `json:"package_name"`
		SubscriptionIDs []string `json:"subscription_ids"`
		Subscriptions   []string `json:"subscriptions"`
		WebhookURL      string   `json:"webhook_url"`
		WebhookSecret   string   `json:"webhook_secret"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("APP_REGISTRY_JSON is not valid JSON: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("APP_REGISTRY_JSON must be a non-empty object")
	}

	registry := make(map[string]*AppRegistryItem, len(entries))
	for appID, entry := range entries {
		if entry.PackageName == "" {
			return nil, fmt.Errorf("invalid app registry item for %q: package_name is required", appID)
		}
		ids := entry.SubscriptionIDs
		if len(ids) == 0 {
			ids = entry.Subscriptions
		}
		registry[appID] = &AppRegistryItem{
			PackageName:     entry.PackageName,
			SubscriptionIDs: ids,
			WebhookURL:      entry.WebhookURL,
			WebhookSecret:   entry.WebhookSecret,
		}
	}
	return registry, nil
}

// ParseClientKeys parses CLIENT_KEYS_JSON. Values may be a single string or a
// list of strings per app_id. An empty input disables client-key enforcement.
func ParseClientKeys(raw string) (map[string][]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("CLIENT_KEYS_JSON is not valid JSON: %w", err)
	}

	keys := make(map[string][]string, len(entries))
	for appID, value := range entries {
		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			keys[appID] = []string{single}
			continue
		}
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			keys[appID] = list
			continue
		}
		return nil, fmt.Errorf("CLIENT_KEYS_JSON values must be string or list of strings")
	}
	return keys, nil
}

// ResolveServiceAccount resolves GOOGLE_SERVICE_ACCOUNT_JSON, which may be
// raw JSON, a path to a JSON file, or base64-encoded JSON.
func ResolveServiceAccount(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is not set")
	}

	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}

	if data, err := os.ReadFile(value); err == nil {
		return data, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err == nil && strings.HasPrefix(strings.TrimSpace(string(decoded)), "{") {
		return decoded, nil
	}

	return nil, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON must be raw JSON, file path, or base64 JSON")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
