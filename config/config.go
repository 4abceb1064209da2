package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server
	Port    string
	BaseURL string

	// Data paths
	DataDir    string
	LibraryDir string
	DBPath     string

	// Authentication
	SecretKey       string
	DisableAuth     bool
	TokenExpiryDays int

	// Steam import
	ImportRateLimit time.Duration

	// Image processing
	ThumbnailQuality int
	MaxUploadSizeMB  int

	// Optional third-party API keys (metadata cascade, not used by the import core)
	SteamAPIKey       string
	SteamGridDBAPIKey string
	IGDBClientID      string
	IGDBClientSecret  string
}

// Load reads configuration from environment variables
func Load() *Config {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dataDir := getEnv("GAMEVAULT_DATA_DIR", "data")

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		BaseURL: getEnv("GAMEVAULT_BASE_URL", "http://localhost:8080"),

		DataDir:    dataDir,
		LibraryDir: getEnv("GAMEVAULT_LIBRARY_DIR", filepath.Join(dataDir, "library")),
		DBPath:     getEnv("GAMEVAULT_DB_PATH", filepath.Join(dataDir, "gamevault.db")),

		SecretKey:       getEnv("GAMEVAULT_SECRET_KEY", ""),
		DisableAuth:     getEnvAsBool("GAMEVAULT_DISABLE_AUTH", false),
		TokenExpiryDays: getEnvAsInt("GAMEVAULT_TOKEN_EXPIRY_DAYS", 30),

		ImportRateLimit: time.Duration(getEnvAsInt("GAMEVAULT_IMPORT_RATE_LIMIT_MS", 1000)) * time.Millisecond,

		ThumbnailQuality: getEnvAsInt("GAMEVAULT_THUMBNAIL_QUALITY", 85),
		MaxUploadSizeMB:  getEnvAsInt("GAMEVAULT_MAX_UPLOAD_SIZE_MB", 50),

		SteamAPIKey:       getEnv("GAMEVAULT_STEAM_API_KEY", ""),
		SteamGridDBAPIKey: getEnv("GAMEVAULT_STEAMGRIDDB_API_KEY", ""),
		IGDBClientID:      getEnv("GAMEVAULT_IGDB_CLIENT_ID", ""),
		IGDBClientSecret:  getEnv("GAMEVAULT_IGDB_CLIENT_SECRET", ""),
	}

	cfg.validate()

	return cfg
}

// validate checks that all required configuration is present
func (c *Config) validate() {
	if c.SecretKey == "" && !c.DisableAuth {
		log.Fatal("FATAL: GAMEVAULT_SECRET_KEY must be set unless GAMEVAULT_DISABLE_AUTH is true")
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		log.Printf("WARNING: GAMEVAULT_THUMBNAIL_QUALITY %d out of range, using 85", c.ThumbnailQuality)
		c.ThumbnailQuality = 85
	}
}

// MaxUploadSizeBytes returns the upload limit in bytes
func (c *Config) MaxUploadSizeBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool reads an environment variable as boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
