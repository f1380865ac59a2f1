package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env                 string
	HTTPPort            string
	StoreBackend        string
	FirestoreProjectID  string
	FirebaseCredentials string
	AuthSkipVerify      bool
	RedisAddr           string
	QueueBackend        string
	JWTIssuer           string
	JWTSigningKey       string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RateLimitPerMin     int
	Timezone            string
	NoticeMaxAge        time.Duration
	IngestChunkSize     int
	PurgeChunkSize      int
	BootstrapAdminUID   string
}

// Load returns application config populated from environment variables
// with sensible defaults. A local .env file is honored when present.
func Load() App {
	_ = godotenv.Load()
	return App{
		Env:                 getEnv("APP_ENV", "dev"),
		HTTPPort:            getEnv("HTTP_PORT", "8081"),
		StoreBackend:        getEnv("STORE_BACKEND", "firestore"),
		FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		AuthSkipVerify:      boolEnv("AUTH_SKIP_VERIFY", false),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:        getEnv("QUEUE_BACKEND", "redis"),
		JWTIssuer:           getEnv("JWT_ISSUER", "marksportal"),
		JWTSigningKey:       getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:           durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:          durationEnv("REFRESH_TTL", 24*time.Hour),
		RateLimitPerMin:     intEnv("RATE_LIMIT_PER_MIN", 120),
		Timezone:            getEnv("TIMEZONE", "Asia/Kolkata"),
		NoticeMaxAge:        durationEnv("NOTICE_MAX_AGE", 30*24*time.Hour),
		IngestChunkSize:     intEnv("INGEST_CHUNK_SIZE", 400),
		PurgeChunkSize:      intEnv("PURGE_CHUNK_SIZE", 499),
		BootstrapAdminUID:   getEnv("BOOTSTRAP_ADMIN_UID", ""),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
