package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_ENV"` specify the environment variable name.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"` // development, staging, production
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Store      StoreConfig
	Postgres   PostgresConfig
	Jobs       JobsConfig
	Match      MatchConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// StoreConfig selects the persistence backend. The memory driver keeps
// everything in process and is meant for local development.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
}

// PostgresConfig holds PostgreSQL database connection details.
// Connection fields are only required with the postgres driver.
type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST"`
	Port            string        `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER"`
	Password        string        `envconfig:"POSTGRES_PASSWORD"`
	DBName          string        `envconfig:"POSTGRES_DBNAME"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"10" validate:"min=1"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"false"`
}

// JobsConfig bounds background run execution.
type JobsConfig struct {
	Concurrency int           `envconfig:"JOBS_CONCURRENCY" default:"2" validate:"min=1"`
	Timeout     time.Duration `envconfig:"JOBS_TIMEOUT" default:"30m"`
}

// MatchConfig holds defaults for specs-match options a request leaves empty.
type MatchConfig struct {
	StagingCategoryID      int64  `envconfig:"MATCH_STAGING_CATEGORY_ID" default:"0" validate:"min=0"`
	NumberConflictStrategy string `envconfig:"MATCH_NUMBER_CONFLICT_STRATEGY" default:"first" validate:"oneof=first max min"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// IsDevelopment reports whether the service runs with APP_ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Load reads the optional dotenv files, then the environment. Variables already
// set in the environment win over dotenv values. Missing dotenv files are ignored.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and the driver-specific required fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Driver == DriverPostgres {
		var missing []string
		for name, v := range map[string]string{
			"POSTGRES_HOST":     c.Postgres.Host,
			"POSTGRES_USER":     c.Postgres.User,
			"POSTGRES_PASSWORD": c.Postgres.Password,
			"POSTGRES_DBNAME":   c.Postgres.DBName,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("invalid configuration: %v required with STORE_DRIVER=postgres", missing)
		}
	}
	return nil
}
