package shopstore

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "LINEAR"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
	BackoffNone        BackoffStrategy = "NONE"
)

// Config holds the data-access core configuration
type Config struct {
	// Table
	TableName string `yaml:"table_name"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`

	// LocalPath runs against the embedded store instead of AWS.
	// ":memory:" keeps everything in memory.
	LocalPath string `yaml:"local_path"`

	// Retention hints attached as ttl at creation
	CartTTL         time.Duration `yaml:"cart_ttl"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`
	AuditTTL        time.Duration `yaml:"audit_ttl"`

	// Store limits
	MaxTransactItems int `yaml:"max_transact_items"`
	BatchSize        int `yaml:"batch_size"`
	DefaultPageSize  int `yaml:"default_page_size"`
	MaxPageSize      int `yaml:"max_page_size"`

	// Retry policy for idempotent writes only
	WriteRetries int             `yaml:"write_retries"`
	RetryDelayMs int             `yaml:"retry_delay_ms"`
	RetryBackoff BackoffStrategy `yaml:"retry_backoff"`

	LowStockThreshold int64         `yaml:"low_stock_threshold"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout"`
}

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	TableName:         "shopstore",
	Region:            "us-east-1",
	CartTTL:           30 * 24 * time.Hour,
	NotificationTTL:   90 * 24 * time.Hour,
	AuditTTL:          365 * 24 * time.Hour,
	MaxTransactItems:  100,
	BatchSize:         25,
	DefaultPageSize:   20,
	MaxPageSize:       100,
	WriteRetries:      3,
	RetryDelayMs:      100,
	RetryBackoff:      BackoffExponential,
	LowStockThreshold: 5,
	NotifyTimeout:     5 * time.Second,
}

// LoadConfig reads a YAML file over DefaultConfig and applies SHOPSTORE_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SHOPSTORE_TABLE_NAME"); v != "" {
		c.TableName = v
	}
	if v := os.Getenv("SHOPSTORE_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("SHOPSTORE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("SHOPSTORE_LOCAL_PATH"); v != "" {
		c.LocalPath = v
	}
	if v := os.Getenv("SHOPSTORE_LOW_STOCK_THRESHOLD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SHOPSTORE_LOW_STOCK_THRESHOLD: %w", err)
		}
		c.LowStockThreshold = n
	}
	return nil
}

// Validate checks the configuration for values the store cannot work with
func (c Config) Validate() error {
	if c.TableName == "" {
		return NewValidationError("table_name is required")
	}
	if c.MaxTransactItems < 2 || c.MaxTransactItems > 100 {
		return NewValidationError("max_transact_items must be between 2 and 100, got %d", c.MaxTransactItems)
	}
	if c.BatchSize < 1 || c.BatchSize > 25 {
		return NewValidationError("batch_size must be between 1 and 25, got %d", c.BatchSize)
	}
	if c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		return NewValidationError("default_page_size must be between 1 and max_page_size")
	}
	return nil
}

// PageLimit clamps a requested page size to the configured bounds
func (c Config) PageLimit(requested int) int {
	if requested <= 0 {
		return c.DefaultPageSize
	}
	if requested > c.MaxPageSize {
		return c.MaxPageSize
	}
	return requested
}

// ExpiryFrom converts a retention window into an epoch-seconds ttl value
func ExpiryFrom(now time.Time, retention time.Duration) int64 {
	if retention <= 0 {
		return 0
	}
	return now.Add(retention).Unix()
}
