package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob the service reads from the environment, so
// nothing downstream touches os.Getenv directly.
type Config struct {
	HTTPPort string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret string

	AdminEmail    string
	AdminPassword string

	KafkaBrokers    string
	AuditTopic      string
	OutboxInterval  time.Duration
	OutboxBatchSize int
	OutboxAttempts  int

	TxMaxAttempts     int
	UpdateLockTimeout time.Duration
	DeleteLockTimeout time.Duration
}

func loadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal("Error getting working directory:", err)
	}

	possiblePaths := []string{
		filepath.Join(wd, ".env"),
		filepath.Join(wd, "..", ".env"),
		filepath.Join(wd, "..", "..", ".env"),
	}

	for _, envPath := range possiblePaths {
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Loaded environment variables from %s", envPath)
			return
		}
	}

	for _, envPath := range possiblePaths {
		examplePath := filepath.Join(filepath.Dir(envPath), ".example.env")
		if err := godotenv.Load(examplePath); err == nil {
			log.Printf("Loaded environment variables from %s", examplePath)
			return
		}
	}

	log.Println("No .env file found, relying on process environment")
}

func Load() *Config {
	loadEnv()

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "9000"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("POSTGRES_USER", "postgres"),
		DBPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		DBName:     getEnv("POSTGRES_DB", "carstyle"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		KafkaBrokers:    getEnv("KAFKA_BROKERS", "localhost:9092"),
		AuditTopic:      getEnv("AUDIT_TOPIC", "order_audit"),
		OutboxInterval:  getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 20),
		OutboxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 5),

		TxMaxAttempts:     getEnvInt("TX_MAX_ATTEMPTS", 3),
		UpdateLockTimeout: getEnvDuration("UPDATE_LOCK_TIMEOUT", 3*time.Second),
		DeleteLockTimeout: getEnvDuration("DELETE_LOCK_TIMEOUT", 5*time.Second),
	}
}

// Dsn renders the pgx connection string.
func (c *Config) Dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid value %q for %s, using %d", v, key, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid value %q for %s, using %s", v, key, fallback)
		return fallback
	}
	return d
}
