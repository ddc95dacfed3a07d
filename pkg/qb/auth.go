package qb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	httpclient "github.com/natserract/qb/pkg/http"
)

type authTokenResponse struct {
	TokenType              string `json:"token_type"`
	ExpiresIn              int64  `json:"expires_in"`
	RefreshToken           string `json:"refresh_token"`
	XRefreshTokenExpiresIn int64  `json:"x_refresh_token_expires_in"`
	AccessToken            string `json:"access_token"`
}

// Refresh exchanges the refresh token for a new access token and updates
// the context in place. A remote rejection (expired or revoked refresh
// token) surfaces as KindAuth and is never retried here, since recovering
// requires new user consent.
func (q *QBContext) Refresh(ctx context.Context) error {
	return q.refreshIfStale(ctx, q.AccessToken())
}

// refreshIfStale performs the token exchange unless another caller already
// replaced staleToken. The token lock is held across the whole
// read-exchange-write sequence, so concurrent 401 handlers collapse into a
// single refresh: the second caller finds a changed token and returns.
func (q *QBContext) refreshIfStale(ctx context.Context, staleToken string) error {
	q.tokens.mu.Lock()
	defer q.tokens.mu.Unlock()

	if q.tokens.accessToken != staleToken {
		// Someone refreshed while we waited on the lock.
		q.logger.Debug("Access token already refreshed by a concurrent caller")
		return nil
	}
	if q.tokens.refreshToken == "" {
		return newError(KindAuth, "access token rejected and no refresh token is available")
	}

	basic := base64.StdEncoding.EncodeToString([]byte(q.clientID + ":" + q.clientSecret))
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {q.tokens.refreshToken},
	}

	q.logger.Info("Refreshing access token", zap.String("company_id", q.companyID))

	resp, err := q.httpClient.Do(httpclient.RequestOptions{
		Method: http.MethodPost,
		URL:    q.tokenURL,
		Headers: map[string]string{
			"Authorization": "Basic " + basic,
			"Content-Type":  "application/x-www-form-urlencoded",
		},
		Body:    form,
		Context: ctx,
	})
	if err != nil {
		return wrapError(KindTransport, "token refresh request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		q.logger.Error("Refresh token rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(resp.Body)))
		return &Error{
			Kind:       KindAuth,
			Message:    "refresh token rejected; new authorization is required",
			StatusCode: resp.StatusCode,
		}
	}

	var tok authTokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		return wrapError(KindAuth, "failed to parse token response", err)
	}
	if tok.AccessToken == "" {
		return newError(KindAuth, "token response carried no access token")
	}

	q.tokens.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		// QuickBooks rotates the refresh token on every exchange.
		q.tokens.refreshToken = tok.RefreshToken
	}
	q.tokens.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	q.logger.Info("Refreshed access token",
		zap.String("company_id", q.companyID),
		zap.Time("expires_at", q.tokens.expiresAt))

	if q.store != nil {
		saved := Tokens{
			AccessToken:  q.tokens.accessToken,
			RefreshToken: q.tokens.refreshToken,
			ExpiresAt:    q.tokens.expiresAt,
		}
		if err := q.store.Save(ctx, q.companyID, saved); err != nil {
			// The in-memory state is already current; losing persistence is
			// worth a warning, not a failed call.
			q.logger.Warn("Failed to persist refreshed tokens", zap.Error(err))
		}
	}

	return nil
}

// CheckAuthorized probes the userinfo endpoint to verify the access token
// is still accepted. Useful before long batch runs.
func (q *QBContext) CheckAuthorized(ctx context.Context) (bool, error) {
	resp, err := q.httpClient.Do(httpclient.RequestOptions{
		Method: http.MethodGet,
		URL:    q.environment.UserInfoURL(),
		Headers: map[string]string{
			"Authorization": q.AuthHeader(),
		},
		Context: ctx,
	})
	if err != nil {
		return false, wrapError(KindTransport, "authorization check failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		q.logger.Warn(fmt.Sprintf("Authorization check returned %d", resp.StatusCode),
			zap.String("response", string(resp.Body)))
	}
	return resp.StatusCode == http.StatusOK, nil
}
