// Package postgres persists QuickBooks bearer credentials between
// sessions. QuickBooks rotates the refresh token on every exchange, so a
// process that refreshes and then exits without saving strands the company
// until the user re-consents; wiring this store into a context closes that
// gap.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/natserract/qb/pkg/qb"
)

// Store implements qb.TokenStore on top of a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConfig creates a new database config from environment variables
func NewConfig() *Config {
	sslMode := os.Getenv("QB_DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	return &Config{
		Host:            getEnv("QB_DB_HOST", "localhost"),
		Port:            5432,
		User:            getEnv("QB_DB_USER", "postgres"),
		Password:        getEnv("QB_DB_PASSWORD", ""),
		Database:        getEnv("QB_DB_NAME", "qb"),
		SSLMode:         sslMode,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new token store backed by a pgx connection pool
func New(cfg *Config, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Token store connection pool established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the token table if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS qb_tokens (
    company_id    TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    expires_at    TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create token table: %w", err)
	}
	s.logger.Info("Token store schema initialized")
	return nil
}

// Save upserts the credential set for a company.
func (s *Store) Save(ctx context.Context, companyID string, tok qb.Tokens) error {
	const query = `
INSERT INTO qb_tokens (company_id, access_token, refresh_token, expires_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (company_id) DO UPDATE SET
    access_token  = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at    = EXCLUDED.expires_at,
    updated_at    = now()`

	if _, err := s.pool.Exec(ctx, query, companyID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return fmt.Errorf("failed to save tokens for company %s: %w", companyID, err)
	}

	s.logger.Debug("Persisted tokens", zap.String("company_id", companyID))
	return nil
}

// Load returns the last saved credential set for a company.
func (s *Store) Load(ctx context.Context, companyID string) (qb.Tokens, error) {
	const query = `
SELECT access_token, refresh_token, expires_at
FROM qb_tokens
WHERE company_id = $1`

	var tok qb.Tokens
	err := s.pool.QueryRow(ctx, query, companyID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return qb.Tokens{}, fmt.Errorf("no tokens stored for company %s", companyID)
		}
		return qb.Tokens{}, fmt.Errorf("failed to load tokens for company %s: %w", companyID, err)
	}
	return tok, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
