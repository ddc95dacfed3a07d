// Package qb provides a client for the QuickBooks Online (QBO) accounting
// API.
//
// QuickBooks Online is Intuit's small-business accounting platform. Its v3
// REST API exposes accounting entities (invoices, customers, vendors, ...)
// for CRUD, an SQL-like query endpoint, report endpoints, and a batch
// endpoint that bundles up to thirty heterogeneous operations into one
// call.
//
// The package centers on QBContext, which owns the credential state
// (environment, company id, bearer token with optional refresh) and the two
// local rate-limit budgets Intuit enforces: one for standard calls and a
// separate one for batch calls. Every operation goes through the context's
// executor, which admits the request against the right budget, attaches
// authentication, performs exactly one refresh-and-resend when the token
// has expired, and maps every outcome onto a single error taxonomy.
//
// Entity payloads are treated as opaque JSON; field-level schemas live with
// the caller.
package qb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/natserract/qb/pkg/config"
	httpclient "github.com/natserract/qb/pkg/http"
)

// QBContext is the facade composing credential state, rate-limit state, and
// base-URL resolution. It is created once per session and is safe to share
// across goroutines; a refresh performed by one caller is visible to all
// subsequent calls on the same context.
type QBContext struct {
	environment Environment
	companyID   string

	clientID     string
	clientSecret string

	tokens *tokenState

	limiter      *RateLimiter
	batchLimiter *RateLimiter
	limits       config.RateLimits

	// Resolved from the environment at construction.
	baseURL  string
	tokenURL string

	httpClient *httpclient.Client
	logger     *zap.Logger
	store      TokenStore
}

// tokenState manages the bearer credentials with thread-safe access. The
// write lock is held across a refresh exchange so concurrent 401 handlers
// serialize into a single refresh.
type tokenState struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewContext creates a new QBContext with a default production logger.
func NewContext(cfg *config.Config) (*QBContext, error) {
	logger, _ := zap.NewProduction()
	return NewContextWithLogger(cfg, logger)
}

// NewContextWithLogger creates a new QBContext with a custom logger.
// Construction validates the configuration and performs no network call.
func NewContextWithLogger(cfg *config.Config, logger *zap.Logger) (*QBContext, error) {
	if cfg == nil {
		return nil, newError(KindConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, wrapError(KindConfig, "invalid configuration", err)
	}
	env, err := ParseEnvironment(cfg.Environment)
	if err != nil {
		return nil, wrapError(KindConfig, "invalid environment", err)
	}

	limits := cfg.RateLimits
	if limits.Standard <= 0 {
		limits.Standard = config.DefaultStandardLimit
	}
	if limits.Batch <= 0 {
		limits.Batch = config.DefaultBatchLimit
	}
	if limits.Window <= 0 {
		limits.Window = config.DefaultWindow
	}
	if limits.BatchItemMax <= 0 {
		limits.BatchItemMax = config.DefaultBatchItemMax
	}

	return &QBContext{
		environment:  env,
		companyID:    cfg.CompanyID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokens: &tokenState{
			accessToken:  cfg.AccessToken,
			refreshToken: cfg.RefreshToken,
			// Unknown until the first refresh reports a lifetime.
			expiresAt: time.Now().Add(999 * time.Hour),
		},
		limiter:      NewRateLimiter(limits.Standard, limits.Window),
		batchLimiter: NewRateLimiter(limits.Batch, limits.Window),
		limits:       limits,
		baseURL:      env.EndpointURL(),
		tokenURL:     env.TokenEndpoint(),
		httpClient:   httpclient.NewClientWithLogger(logger),
		logger:       logger,
	}, nil
}

// NewContextFromEnv creates a QBContext from environment variables
// (QB_ENVIRONMENT, QB_COMPANY_ID, QB_ACCESS_TOKEN, ...).
func NewContextFromEnv() (*QBContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, wrapError(KindConfig, "failed to load configuration", err)
	}
	return NewContext(cfg)
}

// NewContextFromStore creates a QBContext whose tokens come from a
// TokenStore rather than the configuration, and keeps the store attached so
// future refreshes are persisted back.
func NewContextFromStore(ctx context.Context, cfg *config.Config, store TokenStore) (*QBContext, error) {
	if store == nil {
		return nil, newError(KindConfig, "token store is required")
	}
	tok, err := store.Load(ctx, cfg.CompanyID)
	if err != nil {
		return nil, wrapError(KindConfig, "failed to load tokens from store", err)
	}

	loaded := *cfg
	loaded.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		loaded.RefreshToken = tok.RefreshToken
	}

	qbctx, err := NewContext(&loaded)
	if err != nil {
		return nil, err
	}
	if !tok.ExpiresAt.IsZero() {
		qbctx.tokens.expiresAt = tok.ExpiresAt
	}
	qbctx.store = store
	return qbctx, nil
}

// SetTokenStore attaches a store that receives the credential set after
// every successful refresh.
func (q *QBContext) SetTokenStore(store TokenStore) {
	q.store = store
}

// CompanyID returns the company (realm) identifier embedded in every path.
func (q *QBContext) CompanyID() string { return q.companyID }

// Environment returns the deployment this context targets.
func (q *QBContext) Environment() Environment { return q.environment }

// BaseURL returns the API base URL derived from the environment.
func (q *QBContext) BaseURL() string { return q.baseURL }

// AccessToken returns the current bearer token. Callers sharing the context
// always observe the latest refreshed value.
func (q *QBContext) AccessToken() string {
	q.tokens.mu.RLock()
	defer q.tokens.mu.RUnlock()
	return q.tokens.accessToken
}

// IsExpired reports whether the access token's known lifetime has passed.
func (q *QBContext) IsExpired() bool {
	q.tokens.mu.RLock()
	defer q.tokens.mu.RUnlock()
	return time.Now().After(q.tokens.expiresAt)
}

// AuthHeader returns the Authorization header value for the current token.
func (q *QBContext) AuthHeader() string {
	return "Bearer " + q.AccessToken()
}
