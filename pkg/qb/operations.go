package qb

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type opKind int

const (
	opCreate opKind = iota + 1
	opUpdate
	opDelete
	opQuery
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	case opQuery:
		return "query"
	default:
		return "invalid"
	}
}

// Operation is one logical call against a QuickBooks entity resource.
// Operations are validated at construction and immutable afterwards; a
// malformed operation never reaches serialization, let alone the wire.
//
// Entity payloads are opaque, already-serialized JSON blobs. Field-level
// schemas are the caller's concern; this layer only routes them.
type Operation struct {
	kind       opKind
	entity     string
	payload    json.RawMessage
	id         string
	syncToken  string
	where      string
	maxResults int
}

// entityRef is the minimal identity QuickBooks requires to touch an
// existing entity: its remote id plus the sync token guarding against
// lost updates.
type entityRef struct {
	ID        string `json:"Id"`
	SyncToken string `json:"SyncToken"`
}

// Create builds an operation that creates a new entity from the given
// payload. entity is the QuickBooks type name, e.g. "Invoice".
func Create(entity string, payload json.RawMessage) (Operation, error) {
	if entity == "" {
		return Operation{}, newError(KindValidation, "entity name is required")
	}
	if len(payload) == 0 {
		return Operation{}, newError(KindValidation, "create payload is required")
	}
	if !json.Valid(payload) {
		return Operation{}, newError(KindValidation, "create payload is not valid JSON")
	}
	return Operation{kind: opCreate, entity: entity, payload: payload}, nil
}

// Update builds an operation that replaces an existing entity. The payload
// must already carry the remote Id and SyncToken; without them the update
// would be rejected, so it fails here instead of on the wire.
func Update(entity string, payload json.RawMessage) (Operation, error) {
	if entity == "" {
		return Operation{}, newError(KindValidation, "entity name is required")
	}
	var ref entityRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return Operation{}, wrapError(KindValidation, "update payload is not valid JSON", err)
	}
	if ref.ID == "" || ref.SyncToken == "" {
		return Operation{}, newError(KindValidation, "update payload must carry Id and SyncToken")
	}
	return Operation{kind: opUpdate, entity: entity, payload: payload, id: ref.ID, syncToken: ref.SyncToken}, nil
}

// Delete builds an operation that deletes an existing entity by reference.
func Delete(entity, id, syncToken string) (Operation, error) {
	if entity == "" {
		return Operation{}, newError(KindValidation, "entity name is required")
	}
	if id == "" || syncToken == "" {
		return Operation{}, newError(KindValidation, "delete requires both an id and a sync token")
	}
	return Operation{kind: opDelete, entity: entity, id: id, syncToken: syncToken}, nil
}

// Query builds a query operation. where is the platform's own SQL-like
// condition fragment (e.g. "WHERE TotalAmt > '100.00'") passed through
// verbatim; maxResults of zero omits the MAXRESULTS clause.
func Query(entity, where string, maxResults int) (Operation, error) {
	if entity == "" {
		return Operation{}, newError(KindValidation, "entity name is required")
	}
	if maxResults < 0 {
		return Operation{}, newError(KindValidation, "maxResults must not be negative")
	}
	return Operation{kind: opQuery, entity: entity, where: where, maxResults: maxResults}, nil
}

// Entity returns the QuickBooks type name this operation targets.
func (o Operation) Entity() string { return o.entity }

// QueryString returns the full statement sent to the API for a query
// operation: SELECT * FROM <Entity> <where> MAXRESULTS <n>.
func (o Operation) QueryString() string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(o.entity)
	if o.where != "" {
		b.WriteString(" ")
		b.WriteString(o.where)
	}
	if o.maxResults > 0 {
		fmt.Fprintf(&b, " MAXRESULTS %d", o.maxResults)
	}
	return b.String()
}

func (o Operation) validate() error {
	if o.kind == 0 {
		return newError(KindValidation, "operation is empty; use Create, Update, Delete, or Query")
	}
	return nil
}

// wire maps the operation onto its single-call HTTP shape.
func (o Operation) wire(companyID string) (method, path string, body interface{}, query map[string]string) {
	resource := strings.ToLower(o.entity)
	switch o.kind {
	case opCreate, opUpdate:
		return http.MethodPost, fmt.Sprintf("company/%s/%s", companyID, resource), o.payload, nil
	case opDelete:
		return http.MethodPost, fmt.Sprintf("company/%s/%s", companyID, resource),
			entityRef{ID: o.id, SyncToken: o.syncToken}, map[string]string{"operation": "delete"}
	case opQuery:
		return http.MethodGet, fmt.Sprintf("company/%s/query", companyID), nil,
			map[string]string{"query": o.QueryString()}
	default:
		return "", "", nil, nil
	}
}
