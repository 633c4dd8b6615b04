package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Create new config instance with defaults applied
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    120,
			ShutdownTimeout: 10,
		},
		Proxy: ProxyConfig{
			Format:    "webp",
			JXLSpeed:  8,
			AVIFSpeed: 8,
			Coalesce:  true,
		},
		Workers: WorkerConfig{
			QueueSize: 1000,
		},
		Cache: CacheConfig{
			Capacity:      "512MB",
			TimeToIdle:    600,
			TimeToLive:    3600,
			SweepInterval: 60,
			EvictBatch:    5,
			Shards:        32,
		},
		Fetch: FetchConfig{
			Timeout:   30,
			MaxSize:   "32MB",
			UserAgent: "heroproxy/1.0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load configuration file in json format. A missing file leaves the
// defaults untouched.
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return nil
}

// ReadEnv loads a .env file if present and applies environment overrides.
func (c *Config) ReadEnv() error {
	_ = godotenv.Load()

	if err := envInt("PORT", &c.Server.Port); err != nil {
		return err
	}
	envString("FORMAT", &c.Proxy.Format)
	if err := envInt("WORKERS", &c.Workers.Workers); err != nil {
		return err
	}
	if err := envInt("QUEUE_SIZE", &c.Workers.QueueSize); err != nil {
		return err
	}
	envString("CACHE_CAPACITY", &c.Cache.Capacity)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
	envString("SENTRY_DSN", &c.Sentry.SentryDSN)
	envString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	envString("R2_ACCOUNT_ID", &c.R2.AccountID)
	envString("R2_BUCKET_NAME", &c.R2.BucketName)
	envString("R2_ACCESS_KEY_ID", &c.R2.AccessKeyID)
	envString("R2_SECRET_KEY", &c.R2.SecretKey)
	envString("R2_ENDPOINT", &c.R2.Endpoint)
	return nil
}

// BindFlags registers the start-up flags that override the file and env.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Server.Port, "port", c.Server.Port, "port to listen on")
	fs.StringVar(&c.Proxy.Format, "format", c.Proxy.Format, "output format: webp, avif or jxl")
	fs.IntVar(&c.Workers.Workers, "workers", c.Workers.Workers, "transcoding workers (0 = one per CPU)")
	fs.StringVar(&c.Cache.Capacity, "cache", c.Cache.Capacity, "cache capacity, e.g. 512MB")
	fs.IntVar(&c.Proxy.JXLSpeed, "speed", c.Proxy.JXLSpeed, "JXL encoder speed, 1 (fastest) to 8 (best)")
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Cache.CapacityBytes(); err != nil {
		return fmt.Errorf("invalid cache capacity %q: %w", c.Cache.Capacity, err)
	}
	if _, err := c.Fetch.MaxBytes(); err != nil {
		return fmt.Errorf("invalid fetch max_size %q: %w", c.Fetch.MaxSize, err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}
