package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBFilePath  string
	DBTimeoutMs int

	// LookupChunkSize caps how many ids a single existence lookup carries,
	// staying under SQLite's bound-parameter ceiling.
	LookupChunkSize int

	DataDir string
	BaseURL string

	CSVOutputPath  string
	MaxConcurrency int
	MaxRetries     int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBFilePath:  getEnv("DB_FILE_PATH", "dev.db"),
		DBTimeoutMs: getEnvInt("DB_TIMEOUT_MS", 5000),

		LookupChunkSize: getEnvInt("LOOKUP_CHUNK_SIZE", 900),

		DataDir: getEnv("DATA_DIR", "./data"),
		BaseURL: getEnv("BASE_URL", "https://motos.coches.net/"),

		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", "./output/raw_listings.csv"),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
