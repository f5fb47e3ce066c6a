package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// StoreBackend selects the persistence implementation.
type StoreBackend string

const (
	BackendMemory    StoreBackend = "memory"
	BackendFirestore StoreBackend = "firestore"
	BackendPostgres  StoreBackend = "postgres"
)

type Config struct {
	Port            string
	StoreBackend    StoreBackend
	ProjectID       string
	CredentialsFile string
	DatabaseURL     string
	CORSOrigins     []string
	LogLevel        string
	PushEnabled     bool
	CacheEnabled    bool
	CacheMaxCost    int64

	// DevUserID is used for requests without an X-User-Id header. Empty
	// means such requests are rejected.
	DevUserID string
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Port:            get("PORT", "8111"),
		StoreBackend:    StoreBackend(strings.ToLower(get("STORE_BACKEND", string(BackendFirestore)))),
		ProjectID:       get("GOOGLE_CLOUD_PROJECT", "pfinance-app-1748773335"),
		CredentialsFile: get("FIRESTORE_CREDENTIALS_FILE", ""),
		DatabaseURL:     get("DATABASE_URL", ""),
		LogLevel:        get("LOG_LEVEL", "info"),
		CORSOrigins:     splitList(get("CORS_ORIGINS", "http://localhost:3000,http://localhost:1234")),
		DevUserID:       get("DEV_USER_ID", ""),
	}

	var err error
	if get("USE_MEMORY_STORE", "") == "true" {
		cfg.StoreBackend = BackendMemory
	}
	if cfg.PushEnabled, err = parseBool(get("PUSH_ENABLED", "false")); err != nil {
		return Config{}, fmt.Errorf("PUSH_ENABLED: %w", err)
	}
	if cfg.CacheEnabled, err = parseBool(get("CACHE_ENABLED", "true")); err != nil {
		return Config{}, fmt.Errorf("CACHE_ENABLED: %w", err)
	}
	if cfg.CacheMaxCost, err = strconv.ParseInt(get("CACHE_MAX_COST", "10000"), 10, 64); err != nil || cfg.CacheMaxCost <= 0 {
		return Config{}, fmt.Errorf("CACHE_MAX_COST must be a positive integer")
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendFirestore:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
