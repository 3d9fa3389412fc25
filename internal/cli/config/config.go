package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the configuration file name without extension
const FileName = "entrymap"

// EnvPrefix prefixes every environment override: ENTRYMAP_BACKEND_TYPE, ...
const EnvPrefix = "ENTRYMAP"

// Backend types
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Config represents the entrymap configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Password PasswordConfig `mapstructure:"password"`
}

// BackendConfig selects and configures the storage backend
type BackendConfig struct {
	Type  string      `mapstructure:"type"`
	SQL   SQLConfig   `mapstructure:"sql"`
	Redis RedisConfig `mapstructure:"redis"`
	S3    S3Config    `mapstructure:"s3"`
}

// SQLConfig represents database configuration
type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// S3Config represents object store configuration
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// KeysConfig configures the key converter
type KeysConfig struct {
	UseAllRDN bool `mapstructure:"use_all_rdn"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// PasswordConfig configures userPassword hashing
type PasswordConfig struct {
	Hash bool `mapstructure:"hash"`
	Cost int  `mapstructure:"cost"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load loads the configuration from path, or from entrymap.yaml/entrymap.yml
// in the current directory when path is empty. A missing default file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("backend.type", BackendMemory)
	v.SetDefault("backend.sql.driver", "pgx")
	v.SetDefault("backend.sql.dsn", "")
	v.SetDefault("backend.redis.addr", "localhost:6379")
	v.SetDefault("backend.redis.password", "")
	v.SetDefault("backend.redis.db", 0)
	v.SetDefault("backend.redis.prefix", "entrymap:")
	v.SetDefault("backend.s3.bucket", "")
	v.SetDefault("backend.s3.prefix", "")
	v.SetDefault("backend.s3.region", "us-east-1")
	v.SetDefault("backend.s3.endpoint", "")
	v.SetDefault("backend.s3.force_path_style", false)
	v.SetDefault("backend.s3.access_key_id", "")
	v.SetDefault("backend.s3.secret_access_key", "")
	v.SetDefault("keys.use_all_rdn", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.port", 9464)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("password.hash", false)
	v.SetDefault("password.cost", 10)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Backend.SQL.DSN == "" {
		config.Backend.SQL.DSN = os.Getenv("DATABASE_URL")
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// FindConfigFile looks for entrymap.yaml or entrymap.yml in the current
// directory and its parents
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir, FileName+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s.yaml found in %s or its parents", FileName, dir)
		}
		dir = parent
	}
}

// BackendTypes lists the accepted backend.type values
var BackendTypes = []string{BackendMemory, BackendSQL, BackendRedis, BackendS3}

// SQLDrivers lists the accepted backend.sql.driver values
var SQLDrivers = []string{"pgx", "postgres", "postgresql", "sqlite3", "sqlite"}

// ValidationError reports an invalid configuration setting
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s must be one of %s, got: %s", e.Field, strings.Join(e.Allowed, ", "), e.Value)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Backend.Type {
	case BackendMemory:
	case BackendSQL:
		if !contains(SQLDrivers, cfg.Backend.SQL.Driver) {
			return &ValidationError{Field: "backend.sql.driver", Value: cfg.Backend.SQL.Driver, Allowed: SQLDrivers}
		}
		if cfg.Backend.SQL.DSN == "" {
			return &ValidationError{Field: "backend.sql.dsn", Reason: "is required for the sql backend"}
		}
	case BackendRedis:
		if cfg.Backend.Redis.Addr == "" {
			return &ValidationError{Field: "backend.redis.addr", Reason: "is required for the redis backend"}
		}
	case BackendS3:
		if cfg.Backend.S3.Bucket == "" {
			return &ValidationError{Field: "backend.s3.bucket", Reason: "is required for the s3 backend"}
		}
	default:
		return &ValidationError{Field: "backend.type", Value: cfg.Backend.Type, Allowed: BackendTypes}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &ValidationError{
			Field:  "server.port",
			Value:  fmt.Sprint(cfg.Server.Port),
			Reason: fmt.Sprintf("must be between 1 and 65535, got: %d", cfg.Server.Port),
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
