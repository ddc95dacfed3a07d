package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("QB_COMPANY_ID", "9130347")
	t.Setenv("QB_ACCESS_TOKEN", "token-1")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QB_ENVIRONMENT", "sandbox")
	t.Setenv("QB_REFRESH_TOKEN", "refresh-1")
	t.Setenv("QB_CLIENT_ID", "client-id")
	t.Setenv("QB_CLIENT_SECRET", "client-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.Environment)
	assert.Equal(t, "9130347", cfg.CompanyID)
	assert.Equal(t, "token-1", cfg.AccessToken)
	assert.Equal(t, "refresh-1", cfg.RefreshToken)
	assert.Equal(t, DefaultRateLimits(), cfg.RateLimits)
}

func TestLoad_RateLimitOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QB_RATE_LIMIT", "100")
	t.Setenv("QB_BATCH_RATE_LIMIT", "10")
	t.Setenv("QB_RATE_WINDOW_SECONDS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.RateLimits.Standard)
	assert.Equal(t, 10, cfg.RateLimits.Batch)
	assert.Equal(t, 30*time.Second, cfg.RateLimits.Window)
	assert.Equal(t, DefaultBatchItemMax, cfg.RateLimits.BatchItemMax)
}

func TestLoad_RejectsBadRateLimit(t *testing.T) {
	setRequiredEnv(t)

	for _, v := range []string{"abc", "0", "-5"} {
		t.Setenv("QB_RATE_LIMIT", v)
		_, err := Load()
		require.Error(t, err, "QB_RATE_LIMIT=%s", v)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing company id",
			cfg:     Config{AccessToken: "tok"},
			wantErr: "QB_COMPANY_ID",
		},
		{
			name:    "missing access token",
			cfg:     Config{CompanyID: "123"},
			wantErr: "QB_ACCESS_TOKEN",
		},
		{
			name:    "refresh token without client credentials",
			cfg:     Config{CompanyID: "123", AccessToken: "tok", RefreshToken: "ref"},
			wantErr: "QB_CLIENT_ID",
		},
		{
			name: "refresh token with client credentials",
			cfg: Config{
				CompanyID: "123", AccessToken: "tok",
				RefreshToken: "ref", ClientID: "id", ClientSecret: "secret",
			},
		},
		{
			name: "access token only",
			cfg:  Config{CompanyID: "123", AccessToken: "tok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
