// Package config loads the server configuration from an optional YAML file
// and POS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	BackendMySQL  = "mysql"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Sale    SaleConfig    `yaml:"sale"`
	Logger  LoggerConfig  `yaml:"logger"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend         string        `yaml:"backend"`
	MySQLDSN        string        `yaml:"mysql_dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	BoltPath        string        `yaml:"bolt_path"`
	SeedDemo        bool          `yaml:"seed_demo"`
}

// RedisConfig configures the idempotency guard. An empty Addr keeps the guard
// in process memory.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type SaleConfig struct {
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	CommitRetries int           `yaml:"commit_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	SearchLimit   int           `yaml:"search_limit"`
	CartIdleTTL   time.Duration `yaml:"cart_idle_ttl"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Backend:         BackendMySQL,
			MySQLDSN:        "root:root@tcp(localhost:3306)/pos?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			BoltPath:        "pos.db",
			SeedDemo:        true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       100,
			IdempotencyTTL: 24 * time.Hour,
		},
		Sale: SaleConfig{
			CommitTimeout: 5 * time.Second,
			CommitRetries: 3,
			RetryBackoff:  50 * time.Millisecond,
			SearchLimit:   20,
			CartIdleTTL:   30 * time.Minute,
		},
		Logger: LoggerConfig{
			Mode:     "development",
			Filename: "logs/pos.log",
		},
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMySQL:
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("storage.mysql_dsn is required for the mysql backend")
		}
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path is required for the bolt backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Sale.CommitRetries < 0 {
		return fmt.Errorf("sale.commit_retries must not be negative")
	}
	if c.Logger.FileEnable && c.Logger.Filename == "" {
		return fmt.Errorf("logger.filename is required when file logging is enabled")
	}
	return nil
}

func (c *Config) applyEnv() error {
	envString("POS_HTTP_ADDR", &c.Server.HTTPAddr)
	envString("POS_GRPC_ADDR", &c.Server.GRPCAddr)
	envString("POS_STORAGE_BACKEND", &c.Storage.Backend)
	envString("POS_MYSQL_DSN", &c.Storage.MySQLDSN)
	envString("POS_BOLT_PATH", &c.Storage.BoltPath)
	envString("POS_REDIS_ADDR", &c.Redis.Addr)
	envString("POS_LOG_MODE", &c.Logger.Mode)
	envString("POS_LOG_FILE", &c.Logger.Filename)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)

	// POS_REDIS_ADDR=off disables the Redis guard
	if strings.EqualFold(c.Redis.Addr, "off") {
		c.Redis.Addr = ""
	}

	for _, o := range []struct {
		key string
		dst interface{}
	}{
		{"POS_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"POS_MYSQL_MAX_OPEN_CONNS", &c.Storage.MaxOpenConns},
		{"POS_MYSQL_MAX_IDLE_CONNS", &c.Storage.MaxIdleConns},
		{"POS_MYSQL_CONN_MAX_LIFETIME", &c.Storage.ConnMaxLifetime},
		{"POS_SEED_DEMO", &c.Storage.SeedDemo},
		{"POS_REDIS_POOL_SIZE", &c.Redis.PoolSize},
		{"POS_IDEMPOTENCY_TTL", &c.Redis.IdempotencyTTL},
		{"POS_COMMIT_TIMEOUT", &c.Sale.CommitTimeout},
		{"POS_COMMIT_RETRIES", &c.Sale.CommitRetries},
		{"POS_RETRY_BACKOFF", &c.Sale.RetryBackoff},
		{"POS_SEARCH_LIMIT", &c.Sale.SearchLimit},
		{"POS_CART_IDLE_TTL", &c.Sale.CartIdleTTL},
		{"POS_LOG_FILE_ENABLE", &c.Logger.FileEnable},
	} {
		if err := envValue(o.key, o.dst); err != nil {
			return err
		}
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envValue(key string, dst interface{}) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}

	var err error
	switch d := dst.(type) {
	case *int:
		*d, err = cast.ToIntE(v)
	case *bool:
		*d, err = cast.ToBoolE(v)
	case *time.Duration:
		*d, err = cast.ToDurationE(v)
	default:
		err = fmt.Errorf("unsupported type %T", dst)
	}
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	return nil
}
