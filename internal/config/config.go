package config

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environments
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// OFF sources
const (
	OFFSourceAPI     = "api"
	OFFSourceParquet = "parquet"
)

// FileReader abstracts the filesystem so .env loading can be tested
type FileReader interface {
	Open(name string) (io.ReadCloser, error)
	Stat(name string) (os.FileInfo, error)
}

type osFileReader struct{}

func (osFileReader) Open(name string) (io.ReadCloser, error) { return os.Open(name) }
func (osFileReader) Stat(name string) (os.FileInfo, error)   { return os.Stat(name) }

// RateLimit is the per-provider call budget
type RateLimit struct {
	Max           int
	WindowSeconds int
}

// Window returns the window as a duration
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Config holds all configuration for the server
type Config struct {
	// Auth
	AuthToken string

	// Server
	Port        string
	Environment string

	// Open Food Facts
	OFFSource string
	OFFAPIURL string

	// Dataset config (OFF_SOURCE=parquet)
	ParquetURL         string
	DataDir            string
	ParquetPath        string
	MetadataPath       string
	LockFile           string
	DisableRemoteCheck bool
	IgnoreLock         bool

	// Refresh behavior
	RefreshIntervalHours int

	// USDA FoodData Central
	USDAAPIURL string
	USDAAPIKey string

	// Overrides for embedded data
	LocalDatasetPath string
	RulesPath        string

	// Resolution
	ProviderTimeoutSeconds int
	LocalRateLimit         RateLimit
	USDARateLimit          RateLimit
	OFFRateLimit           RateLimit
	BatchConcurrency       int
	CoalesceInflight       bool

	// Cache
	CacheTTLHours     int
	CacheSweepMinutes int
	RedisAddr         string
	RedisPrefix       string

	// Scoring
	DefaultServingGrams float64
}

// Load reads configuration from environment variables, merging an optional .env file
func Load() *Config {
	return LoadWithFileReader(osFileReader{})
}

// LoadWithFileReader is Load with an injectable filesystem
func LoadWithFileReader(reader FileReader) *Config {
	loadEnvFileWithReader(reader)

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		AuthToken:   getEnv("AUTH_TOKEN", "super-secret-token"),
		Port:        getEnv("PORT", "8080"),
		Environment: strings.ToLower(getEnv("ENV", EnvProduction)),

		OFFSource: strings.ToLower(getEnv("OFF_SOURCE", OFFSourceAPI)),
		OFFAPIURL: strings.TrimRight(getEnv("OFF_API_URL", "https://world.openfoodfacts.org"), "/"),

		ParquetURL:         getEnv("PARQUET_URL", "https://huggingface.co/datasets/openfoodfacts/product-database/resolve/main/food.parquet"),
		DataDir:            dataDir,
		ParquetPath:        getEnv("PARQUET_PATH", filepath.Join(dataDir, "food.parquet")),
		MetadataPath:       getEnv("METADATA_PATH", filepath.Join(dataDir, "metadata.json")),
		LockFile:           getEnv("LOCK_FILE", filepath.Join(dataDir, "refresh.lock")),
		DisableRemoteCheck: getEnvBool("DISABLE_REMOTE_CHECK", false),
		IgnoreLock:         getEnvBool("IGNORE_LOCK", false),

		RefreshIntervalHours: getEnvInt("REFRESH_INTERVAL_HOURS", 24),

		USDAAPIURL: strings.TrimRight(getEnv("USDA_API_URL", "https://api.nal.usda.gov/fdc/v1"), "/"),
		USDAAPIKey: getEnv("USDA_API_KEY", "DEMO_KEY"),

		LocalDatasetPath: os.Getenv("LOCAL_DATASET_PATH"),
		RulesPath:        os.Getenv("RULES_PATH"),

		ProviderTimeoutSeconds: getEnvInt("PROVIDER_TIMEOUT_SECONDS", 12),
		LocalRateLimit:         getRateLimit("LOCAL", 600, 60),
		USDARateLimit:          getRateLimit("USDA", 16, 60),
		OFFRateLimit:           getRateLimit("OFF", 100, 60),
		BatchConcurrency:       getEnvInt("BATCH_CONCURRENCY", 4),
		CoalesceInflight:       getEnvBool("COALESCE_INFLIGHT", true),

		CacheTTLHours:     getEnvInt("CACHE_TTL_HOURS", 48),
		CacheSweepMinutes: getEnvInt("CACHE_SWEEP_MINUTES", 30),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPrefix:       getEnv("REDIS_PREFIX", "foodfit:"),

		DefaultServingGrams: getEnvFloat("DEFAULT_SERVING_GRAMS", 30),
	}
}

// loadEnvFileWithReader copies .env entries into the process environment.
// Variables that are already set win. A missing or unparsable file is ignored.
func loadEnvFileWithReader(reader FileReader) {
	if _, err := reader.Stat(".env"); err != nil {
		return
	}
	f, err := reader.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return
	}
	for key, value := range values {
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}

// IsDevelopment reports whether detailed errors may be returned to clients
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// RefreshInterval returns the refresh interval as a duration
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalHours) * time.Hour
}

// ProviderTimeout bounds a single adapter call
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// CacheTTL is how long a resolved product is served from cache
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// CacheSweepInterval is how often expired entries are purged; zero disables the sweeper
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.CacheSweepMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getRateLimit(provider string, max, windowSeconds int) RateLimit {
	return RateLimit{
		Max:           getEnvInt("RATE_LIMIT_"+provider+"_MAX", max),
		WindowSeconds: getEnvInt("RATE_LIMIT_"+provider+"_WINDOW_SECONDS", windowSeconds),
	}
}
