package qb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	httpclient "github.com/natserract/qb/pkg/http"
)

// minorVersion pins the QBO API minor version attached to every request.
const minorVersion = "65"

// OpResult carries the decoded outcome of a single operation. Exactly one
// field is set, matching the operation kind: Entity for create/update,
// Query for queries, Deleted for deletes.
type OpResult struct {
	Entity  json.RawMessage
	Query   *QueryResult
	Deleted *Deleted
}

// Execute runs one logical operation against the API. It consumes a permit
// from the standard budget first and fails fast with KindThrottle when the
// budget is exhausted, before anything touches the network; retry policy is
// the caller's decision (see ExecuteWithRetry and RateLimiter.WaitAdmit).
//
// A 401 triggers exactly one token refresh and one resend; a second 401
// yields KindAuth. The refreshed token is visible to every caller sharing
// this context.
func (q *QBContext) Execute(ctx context.Context, op Operation) (*OpResult, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if err := q.limiter.Admit(); err != nil {
		return nil, err
	}

	q.logger.Debug("Executing operation",
		zap.String("operation", op.kind.String()),
		zap.String("entity", op.entity))

	method, path, body, query := op.wire(q.companyID)
	resp, err := q.call(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeOpResult(op, resp.Body)
}

// ExecuteWithRetry wraps Execute with bounded wait-and-retry on throttling
// and transport failures, using exponential backoff. This is an explicit
// opt-in policy; Execute itself never sleeps or retries beyond the single
// refresh-and-resend on 401.
func (q *QBContext) ExecuteWithRetry(ctx context.Context, op Operation, maxElapsed time.Duration) (*OpResult, error) {
	if maxElapsed <= 0 {
		maxElapsed = q.limits.Window + 10*time.Second
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = q.limits.Window

	operation := func() (*OpResult, error) {
		res, err := q.Execute(ctx, op)
		if err != nil {
			switch KindOf(err) {
			case KindThrottle, KindTransport:
				return nil, err
			default:
				return nil, backoff.Permanent(err)
			}
		}
		return res, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(maxElapsed))
}

// Read fetches a single entity by id.
func (q *QBContext) Read(ctx context.Context, entity, id string) (json.RawMessage, error) {
	if entity == "" || id == "" {
		return nil, newError(KindValidation, "read requires an entity name and an id")
	}
	if err := q.limiter.Admit(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("company/%s/%s/%s", q.companyID, strings.ToLower(entity), id)
	resp, err := q.call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return entityFromEnvelope(entity, resp.Body)
}

// SendEmail asks QuickBooks to email an entity (invoice, estimate, ...) to
// the given address.
func (q *QBContext) SendEmail(ctx context.Context, entity, id, sendTo string) (json.RawMessage, error) {
	if entity == "" || id == "" || sendTo == "" {
		return nil, newError(KindValidation, "send requires an entity name, an id, and a destination address")
	}
	if err := q.limiter.Admit(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("company/%s/%s/%s/send", q.companyID, strings.ToLower(entity), id)
	resp, err := q.call(ctx, http.MethodPost, path, nil, map[string]string{"sendTo": sendTo})
	if err != nil {
		return nil, err
	}
	return entityFromEnvelope(entity, resp.Body)
}

// Report runs a named report (e.g. "ProfitAndLoss", "BalanceSheet") with
// the given query parameters and returns the raw report body. Report
// schemas vary per report, so decoding is left to the caller.
func (q *QBContext) Report(ctx context.Context, name string, params map[string]string) (json.RawMessage, error) {
	if name == "" {
		return nil, newError(KindValidation, "report name is required")
	}
	if err := q.limiter.Admit(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("company/%s/reports/%s", q.companyID, name)
	resp, err := q.call(ctx, http.MethodGet, path, nil, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// call performs the authenticated exchange with the single bounded
// refresh-and-resend on 401. It does not touch any rate budget; admission
// is the caller's job so batch and standard calls stay on their own
// budgets.
func (q *QBContext) call(ctx context.Context, method, path string, body interface{}, query map[string]string) (*httpclient.Response, error) {
	token := q.AccessToken()
	resp, err := q.roundTrip(ctx, method, path, body, query, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		q.logger.Info("Access token rejected, attempting refresh", zap.String("path", path))
		if err := q.refreshIfStale(ctx, token); err != nil {
			return nil, err
		}
		resp, err = q.roundTrip(ctx, method, path, body, query, q.AccessToken())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &Error{
				Kind:       KindAuth,
				Message:    "access token rejected after refresh",
				StatusCode: resp.StatusCode,
			}
		}
	}

	if err := classifyStatus(resp); err != nil {
		q.logger.Warn("Request rejected by remote",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("kind", KindOf(err).String()))
		return nil, err
	}
	return resp, nil
}

// roundTrip serializes and sends exactly one HTTP request. Errors from the
// wire come back as KindTransport.
func (q *QBContext) roundTrip(ctx context.Context, method, path string, body interface{}, query map[string]string, token string) (*httpclient.Response, error) {
	params := map[string]string{"minorversion": minorVersion}
	for k, v := range query {
		params[k] = v
	}

	u, err := httpclient.BuildURL(q.baseURL, path, params)
	if err != nil {
		return nil, wrapError(KindValidation, "failed to build request URL", err)
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, wrapError(KindValidation, "failed to serialize request body", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, wrapError(KindValidation, "failed to build request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Request id echoed back by Intuit support tooling; ties a wire
	// exchange to our logs.
	req.Header.Set("intuit_tid", uuid.NewString())

	resp, err := q.httpClient.Exchange(req)
	if err != nil {
		return nil, wrapError(KindTransport, "request failed", err)
	}
	return resp, nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy.
func classifyStatus(resp *httpclient.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Error{
			Kind:       KindThrottle,
			Message:    "remote throttle; wait for the cooldown before retrying",
			StatusCode: resp.StatusCode,
		}
	}

	var env faultEnvelope
	_ = json.Unmarshal(resp.Body, &env)
	if env.Fault.isThrottle() {
		return &Error{
			Kind:       KindThrottle,
			Message:    "remote throttle; wait for the cooldown before retrying",
			StatusCode: resp.StatusCode,
			Fault:      env.Fault,
		}
	}

	msg := "remote rejected the request"
	if env.Fault != nil {
		msg = env.Fault.Summary()
	}
	return &Error{
		Kind:       KindBadRequest,
		Message:    msg,
		StatusCode: resp.StatusCode,
		Fault:      env.Fault,
	}
}

func decodeOpResult(op Operation, body []byte) (*OpResult, error) {
	switch op.kind {
	case opQuery:
		qr, err := decodeQueryResult(op.entity, body)
		if err != nil {
			return nil, err
		}
		return &OpResult{Query: qr}, nil
	case opDelete:
		raw, err := entityFromEnvelope(op.entity, body)
		if err != nil {
			return nil, err
		}
		var del Deleted
		if err := json.Unmarshal(raw, &del); err != nil {
			return nil, wrapError(KindBadRequest, "undecodable delete response", err)
		}
		return &OpResult{Deleted: &del}, nil
	default:
		raw, err := entityFromEnvelope(op.entity, body)
		if err != nil {
			return nil, err
		}
		return &OpResult{Entity: raw}, nil
	}
}

// entityFromEnvelope unwraps {"<Entity>": {...}, "time": "..."}.
func entityFromEnvelope(entity string, body []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, wrapError(KindBadRequest, "undecodable response body", err)
	}
	for k, v := range env {
		if strings.EqualFold(k, entity) {
			return v, nil
		}
	}
	return nil, newError(KindBadRequest, fmt.Sprintf("response carried no %s object", entity))
}

func decodeQueryResult(entity string, body []byte) (*QueryResult, error) {
	var env struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
		Time          string                     `json:"time"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, wrapError(KindBadRequest, "undecodable query response", err)
	}

	res := &QueryResult{}
	if v, ok := env.QueryResponse["startPosition"]; ok {
		_ = json.Unmarshal(v, &res.StartPosition)
	}
	if v, ok := env.QueryResponse["maxResults"]; ok {
		_ = json.Unmarshal(v, &res.MaxResults)
	}
	if v, ok := env.QueryResponse["totalCount"]; ok {
		_ = json.Unmarshal(v, &res.TotalCount)
	}
	for k, v := range env.QueryResponse {
		if strings.EqualFold(k, entity) {
			if err := json.Unmarshal(v, &res.Items); err != nil {
				return nil, wrapError(KindBadRequest, "undecodable query result items", err)
			}
			break
		}
	}
	// No entity key means zero matches; an empty result set is not an
	// error at this layer.
	return res, nil
}
