package engine

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	// Store
	DatabasePath string `validate:"required_without=DatabaseURL"`
	DatabaseURL  string
	RedisURL     string

	// Cache
	CacheTTL             time.Duration `validate:"gt=0"`
	CacheMaxEntries      int           `validate:"gte=0"`
	CacheCleanupInterval time.Duration `validate:"gt=0"`

	// Admission
	PrimaryChannel  string
	ElevatedChannel string
	BaseLimit       int           `validate:"gt=0"`
	ElevatedLimit   int           `validate:"gtefield=BaseLimit"`
	SearchCooldown  time.Duration `validate:"gte=0"`
	MembershipTTL   time.Duration `validate:"gt=0"`
	TelegramToken   string
	TelegramAPIBase string        `validate:"omitempty,url"`
	QuotaWindow     time.Duration `validate:"gt=0"`

	// Lanes
	FastWorkers     int           `validate:"gt=0"`
	SlowWorkers     int           `validate:"gt=0"`
	FastQueueSize   int           `validate:"gt=0"`
	SlowQueueSize   int           `validate:"gt=0"`
	FastServiceTime time.Duration `validate:"gt=0"`
	SlowServiceTime time.Duration `validate:"gt=0"`
	SpoolDir        string        `validate:"required"`
	SpoolRetention  time.Duration `validate:"gte=0"`

	// Providers
	ProviderTimeout  time.Duration `validate:"gt=0"`
	YandexToken      string
	YandexAPIBase    string `validate:"omitempty,url"`
	SaavnAPIBase     string `validate:"omitempty,url"`
	YTDLPPath        string
	YTDLPConcurrency int `validate:"gt=0"`

	// Delivery
	ProxyURL string `validate:"required,url"`

	HTTPClient *http.Client `validate:"-"`
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages.
// Always points to the current cfg value.
var Cfg = &cfg

var validate = validator.New()

// Init validates and installs the given configuration.
func Init(c Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg = c
	Cfg = &cfg
	return nil
}
