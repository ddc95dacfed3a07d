package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything needed to talk to the QuickBooks Online API:
// the environment selector, the company (realm) identifier, and the OAuth
// bearer credentials. Client credentials are only needed when a refresh
// token is supplied, since they authenticate the token-exchange call.
type Config struct {
	Environment  string
	CompanyID    string
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string

	RateLimits RateLimits
}

// RateLimits carries the locally enforced request budgets. The ceilings
// mirror Intuit's published throttling policy but are configuration, not
// constants, so a policy change never requires a code change.
type RateLimits struct {
	// Standard is the maximum number of single-operation requests per Window.
	Standard int
	// Batch is the maximum number of batch calls per Window. Batch capacity
	// is accounted separately from Standard by the remote service.
	Batch int
	// Window is the period both budgets reset on.
	Window time.Duration
	// BatchItemMax caps how many operations fit in one batch call.
	BatchItemMax int
}

const (
	DefaultStandardLimit = 500
	DefaultBatchLimit    = 40
	DefaultWindow        = 60 * time.Second
	DefaultBatchItemMax  = 30
)

// DefaultRateLimits returns the documented QuickBooks Online budgets:
// 500 requests/min, 40 batch calls/min, 30 operations per batch.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Standard:     DefaultStandardLimit,
		Batch:        DefaultBatchLimit,
		Window:       DefaultWindow,
		BatchItemMax: DefaultBatchItemMax,
	}
}

func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  os.Getenv("QB_ENVIRONMENT"),
		CompanyID:    os.Getenv("QB_COMPANY_ID"),
		AccessToken:  os.Getenv("QB_ACCESS_TOKEN"),
		RefreshToken: os.Getenv("QB_REFRESH_TOKEN"),
		ClientID:     os.Getenv("QB_CLIENT_ID"),
		ClientSecret: os.Getenv("QB_CLIENT_SECRET"),
		RateLimits:   DefaultRateLimits(),
	}

	if v := os.Getenv("QB_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("QB_RATE_LIMIT must be a positive integer, got %q", v)
		}
		cfg.RateLimits.Standard = n
	}
	if v := os.Getenv("QB_BATCH_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("QB_BATCH_RATE_LIMIT must be a positive integer, got %q", v)
		}
		cfg.RateLimits.Batch = n
	}
	if v := os.Getenv("QB_RATE_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("QB_RATE_WINDOW_SECONDS must be a positive integer, got %q", v)
		}
		cfg.RateLimits.Window = time.Duration(n) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.CompanyID == "" {
		return fmt.Errorf("QB_COMPANY_ID is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("QB_ACCESS_TOKEN is required")
	}
	if c.RefreshToken != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return fmt.Errorf("QB_CLIENT_ID and QB_CLIENT_SECRET are required when QB_REFRESH_TOKEN is set")
	}
	// RefreshToken is optional; without it a 401 is surfaced instead of
	// refreshed.
	return nil
}
