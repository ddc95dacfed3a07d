package qb

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Fault is the structured business-level error body QuickBooks returns when
// it accepts a call but rejects its content. It is distinct from transport
// failures and is carried inside a KindBadRequest error or a BatchResult.
type Fault struct {
	Type   string       `json:"type"`
	Errors []FaultError `json:"Error"`
}

type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element"`
}

// Summary flattens the fault into a single log-friendly line.
func (f *Fault) Summary() string {
	if f == nil {
		return ""
	}
	if len(f.Errors) == 0 {
		return f.Type
	}
	parts := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		parts = append(parts, e.Code+": "+e.Message)
	}
	return f.Type + " [" + strings.Join(parts, "; ") + "]"
}

// throttleFaultCode is the remote error code QuickBooks uses when a call is
// rejected for exceeding the throttle policy, sometimes delivered with a
// non-429 status.
const throttleFaultCode = "3001"

func (f *Fault) isThrottle() bool {
	if f == nil {
		return false
	}
	for _, e := range f.Errors {
		if e.Code == throttleFaultCode {
			return true
		}
	}
	return false
}

// faultEnvelope is the top-level error body on non-batch calls.
type faultEnvelope struct {
	Fault *Fault `json:"Fault"`
	Time  string `json:"time"`
}

// QueryResult is the decoded result set of a query operation. Items are
// opaque entity payloads; field-level decoding belongs to the caller's
// entity schemas.
type QueryResult struct {
	Items         []json.RawMessage
	StartPosition int
	MaxResults    int
	TotalCount    int
}

// Deleted reports the outcome of a delete operation.
type Deleted struct {
	Status string `json:"status"`
	Domain string `json:"domain"`
	ID     string `json:"Id"`
}

// Tokens is the bearer-credential set a TokenStore persists between
// sessions. QuickBooks rotates the refresh token on every exchange, so a
// lost rotation strands the session until the user re-consents.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenStore receives the credential set after every successful refresh and
// can hand it back when a new context is constructed.
type TokenStore interface {
	Save(ctx context.Context, companyID string, tok Tokens) error
	Load(ctx context.Context, companyID string) (Tokens, error)
}
