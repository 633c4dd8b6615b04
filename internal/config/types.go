package config

import (
	"time"

	"github.com/dustin/go-humanize"
)

type Config struct {
	Server  ServerConfig `json:"server"`
	Proxy   ProxyConfig  `json:"proxy"`
	Workers WorkerConfig `json:"workers"`
	Cache   CacheConfig  `json:"cache"`
	Fetch   FetchConfig  `json:"fetch"`
	R2      R2Config     `json:"r2"`
	Log     LogConfig    `json:"log"`
	Sentry  SentryConfig `json:"sentry"`
}

// Durations below are read as whole seconds, as in the rest of the config.

type ServerConfig struct {
	Port            int           `json:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gte=0"`
}

type ProxyConfig struct {
	Format    string `json:"format" validate:"oneof=webp avif jxl"`
	JXLSpeed  int    `json:"jxl_speed" validate:"min=1,max=8"`
	AVIFSpeed int    `json:"avif_speed" validate:"min=0,max=10"`
	MaxWidth  int    `json:"max_width" validate:"gte=0"`
	MaxHeight int    `json:"max_height" validate:"gte=0"`
	Coalesce  bool   `json:"coalesce"`
}

type WorkerConfig struct {
	Workers   int `json:"count" validate:"gte=0"` // 0 means one per CPU
	QueueSize int `json:"queue_size" validate:"min=1"`
}

type CacheConfig struct {
	Capacity      string        `json:"capacity" validate:"required"` // e.g. "512MB"
	TimeToIdle    time.Duration `json:"time_to_idle" validate:"gte=0"`
	TimeToLive    time.Duration `json:"time_to_live" validate:"gte=0"`
	SweepInterval time.Duration `json:"sweep_interval" validate:"gte=0"`
	EvictBatch    int           `json:"evict_batch" validate:"min=1"`
	Shards        int           `json:"shards" validate:"min=1"`
}

// CapacityBytes parses Capacity. Both SI ("512MB") and IEC ("512MiB")
// suffixes are accepted.
func (c CacheConfig) CapacityBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Capacity)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

type FetchConfig struct {
	Timeout   time.Duration `json:"timeout" validate:"gte=0"`
	MaxSize   string        `json:"max_size" validate:"required"`
	UserAgent string        `json:"user_agent"`
}

func (c FetchConfig) MaxBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxSize)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

type R2Config struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Endpoint    string `json:"endpoint"`
}

func (c R2Config) Enabled() bool { return c.BucketName != "" }

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format" validate:"omitempty,oneof=text json"`
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
