package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Storage   StorageConfig
	Source    SourceConfig
	Ingestion IngestionConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	Log       LogConfig
}

// StorageConfig selects and configures the document store engine.
type StorageConfig struct {
	Type             string `env:"STORAGE_TYPE" envDefault:"json" validate:"oneof=json sqlite postgresql mongodb dynamodb"`
	DataDir          string `env:"DATA_DIR" envDefault:"data"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"data/catalog.db"`
	PostgresURI      string `env:"POSTGRES_URI" validate:"required_if=Type postgresql"`
	MongoDBURI       string `env:"MONGODB_URI" validate:"required_if=Type mongodb"`
	MongoDBDatabase  string `env:"MONGODB_DATABASE" envDefault:"catalog"`
	Region           string `env:"AWS_REGION" envDefault:"us-west-2"`
	DynamoDBTable    string `env:"DYNAMODB_TABLE" envDefault:"catalog_documents"`
	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"` // For local DynamoDB
}

// SourceConfig describes the external catalog query.
type SourceConfig struct {
	Endpoint   string        `env:"SOURCE_ENDPOINT" envDefault:"https://api.cellphones.com.vn/v2/graphql/query" validate:"required,url"`
	Timeout    time.Duration `env:"SOURCE_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	Category   string        `env:"SOURCE_CATEGORY" envDefault:"3" validate:"required"`
	ProvinceID int           `env:"SOURCE_PROVINCE_ID" envDefault:"30"`
	PageSize   int           `env:"SOURCE_PAGE_SIZE" envDefault:"100" validate:"min=1,max=1000"`
	SortField  string        `env:"SOURCE_SORT_FIELD" envDefault:"view" validate:"required,alphanum"`
	RateLimit  float64       `env:"SOURCE_RATE_LIMIT" envDefault:"1" validate:"gt=0"`
	UserAgent  string        `env:"SOURCE_USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"`
}

// IngestionConfig holds the transform and load settings of the catalog sync.
type IngestionConfig struct {
	CDNPrefix        string        `env:"CATALOG_CDN_PREFIX" envDefault:"https://cdn2.cellphones.com.vn/insecure/rs:fill:358:358/q:90/plain/https://cellphones.com.vn/media/catalog/product"`
	ImageVariants    int           `env:"CATALOG_IMAGE_VARIANTS" envDefault:"0" validate:"min=0,max=20"`
	StockSeed        int           `env:"CATALOG_STOCK_SEED" envDefault:"100" validate:"min=0"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" envDefault:"500ms" validate:"gt=0"`
}

// SchedulerConfig enables the two sync tasks and sets their intervals. An
// interval must be positive only when its task is enabled.
type SchedulerConfig struct {
	CatalogSyncEnabled          bool          `env:"CATALOG_SYNC_ENABLED" envDefault:"true"`
	CatalogSyncIntervalSeconds  int           `env:"CATALOG_SYNC_INTERVAL_SECONDS" envDefault:"300" validate:"required_if=CatalogSyncEnabled true,gte=0"`
	CatalogSyncImmediate        bool          `env:"CATALOG_SYNC_IMMEDIATE" envDefault:"true"`
	CategorySyncEnabled         bool          `env:"CATEGORY_SYNC_ENABLED" envDefault:"true"`
	CategorySyncIntervalSeconds int           `env:"CATEGORY_SYNC_INTERVAL_SECONDS" envDefault:"600" validate:"required_if=CategorySyncEnabled true,gte=0"`
	CategorySyncImmediate       bool          `env:"CATEGORY_SYNC_IMMEDIATE" envDefault:"false"`
	WatchProducts               bool          `env:"WATCH_PRODUCTS" envDefault:"true"`
	WatchDebounce               time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s" validate:"gt=0"`
}

// CatalogInterval returns the catalog sync interval.
func (s SchedulerConfig) CatalogInterval() time.Duration {
	return time.Duration(s.CatalogSyncIntervalSeconds) * time.Second
}

// CategoryInterval returns the category sync interval.
func (s SchedulerConfig) CategoryInterval() time.Duration {
	return time.Duration(s.CategorySyncIntervalSeconds) * time.Second
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `env:"SERVER_PORT" envDefault:"8080" validate:"min=1,max=65535"`
}

// LogConfig configures the logrus loggers and the rotating log file.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	Output     string `env:"LOG_OUTPUT" envDefault:"stdout" validate:"oneof=stdout file both"`
	File       string `env:"LOG_FILE" envDefault:"logs/catalog-sync.log"`
	MaxSize    int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAge     int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

// Load reads the optional .env files (default ".env"), then the process
// environment, and validates the result.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
