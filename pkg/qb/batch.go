package qb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// BatchRequest groups heterogeneous operations (create, update, delete,
// query) into a single wire call. Items are capped at the configured
// ceiling; correlation ids are assigned sequentially at insertion and used
// to route each result envelope back to its operation, so results always
// come back in submission order no matter how the remote orders them.
//
// A batch is atomic at the transport level (one HTTP call) but not at the
// business level: items succeed or fail independently, and a failed subset
// is retried only by building a fresh BatchRequest from it.
type BatchRequest struct {
	items   []batchItem
	itemMax int
	nextID  int
}

type batchItem struct {
	bID string
	op  Operation
}

// BatchResult is the per-item outcome of a batch call. Exactly one of
// Entity, Query, or Fault is set.
type BatchResult struct {
	BID    string
	Entity json.RawMessage
	Query  *QueryResult
	Fault  *Fault
}

// Failed reports whether the item was rejected by the remote.
func (r BatchResult) Failed() bool { return r.Fault != nil }

// NewBatchRequest creates an empty batch with the context's configured
// item ceiling.
func (q *QBContext) NewBatchRequest() *BatchRequest {
	return &BatchRequest{itemMax: q.limits.BatchItemMax}
}

// Add appends an operation and returns its correlation id. Once the batch
// holds its maximum number of items, Add fails with KindBatchLimit and the
// queued items are left untouched.
func (b *BatchRequest) Add(op Operation) (string, error) {
	if err := op.validate(); err != nil {
		return "", err
	}
	if len(b.items) >= b.itemMax {
		return "", &Error{
			Kind:    KindBatchLimit,
			Message: fmt.Sprintf("batch is limited to %d operations", b.itemMax),
		}
	}

	b.nextID++
	bid := fmt.Sprintf("bid%d", b.nextID)
	b.items = append(b.items, batchItem{bID: bid, op: op})
	return bid, nil
}

// Len returns the number of queued operations.
func (b *BatchRequest) Len() int { return len(b.items) }

// Execute sends the batch as one composite call and returns one result per
// queued operation, in submission order. It consumes the batch budget, not
// the standard one; the batch engine is the only consumer of that budget.
//
// Any mismatch between submitted and returned correlation ids is a
// KindBatch protocol error: partial result sets are never synthesized.
func (b *BatchRequest) Execute(ctx context.Context, q *QBContext) ([]BatchResult, error) {
	if len(b.items) == 0 {
		// Nothing to send; don't burn a permit on an empty call.
		return nil, nil
	}
	if err := q.batchLimiter.Admit(); err != nil {
		return nil, err
	}

	wire := make([]map[string]interface{}, 0, len(b.items))
	for _, it := range b.items {
		wire = append(wire, it.wire())
	}
	body := map[string]interface{}{"BatchItemRequest": wire}

	q.logger.Debug("Executing batch", zap.Int("items", len(b.items)))

	resp, err := q.call(ctx, http.MethodPost, fmt.Sprintf("company/%s/batch", q.companyID), body, nil)
	if err != nil {
		return nil, err
	}
	return b.demux(resp.Body)
}

// wire builds the composite-request entry for one item: a correlation id
// plus either a Query string or an operation tag and entity object.
func (it batchItem) wire() map[string]interface{} {
	m := map[string]interface{}{"bId": it.bID}
	switch it.op.kind {
	case opQuery:
		m["Query"] = it.op.QueryString()
	case opDelete:
		m["operation"] = it.op.kind.String()
		m[it.op.entity] = entityRef{ID: it.op.id, SyncToken: it.op.syncToken}
	default:
		m["operation"] = it.op.kind.String()
		m[it.op.entity] = it.op.payload
	}
	return m
}

// demux routes response envelopes back to submitted operations by
// correlation id and restores submission order.
func (b *BatchRequest) demux(body []byte) ([]BatchResult, error) {
	var env struct {
		Items []json.RawMessage `json:"BatchItemResponse"`
		Time  string            `json:"time"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, wrapError(KindBatch, "undecodable batch response", err)
	}

	submitted := make(map[string]Operation, len(b.items))
	for _, it := range b.items {
		submitted[it.bID] = it.op
	}

	byID := make(map[string]BatchResult, len(env.Items))
	for _, raw := range env.Items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, wrapError(KindBatch, "undecodable batch response item", err)
		}

		var bid string
		if v, ok := fields["bId"]; ok {
			_ = json.Unmarshal(v, &bid)
		}
		op, ok := submitted[bid]
		if !ok {
			return nil, newError(KindBatch, fmt.Sprintf("response carried unexpected correlation id %q", bid))
		}
		if _, dup := byID[bid]; dup {
			return nil, newError(KindBatch, fmt.Sprintf("response carried correlation id %q twice", bid))
		}

		result, err := decodeBatchItem(bid, op, fields)
		if err != nil {
			return nil, err
		}
		byID[bid] = result
	}

	if len(byID) != len(b.items) {
		missing := make([]string, 0)
		for _, it := range b.items {
			if _, ok := byID[it.bID]; !ok {
				missing = append(missing, it.bID)
			}
		}
		return nil, newError(KindBatch, fmt.Sprintf("response missing correlation ids %v", missing))
	}

	ordered := make([]BatchResult, 0, len(b.items))
	for _, it := range b.items {
		ordered = append(ordered, byID[it.bID])
	}
	return ordered, nil
}

func decodeBatchItem(bid string, op Operation, fields map[string]json.RawMessage) (BatchResult, error) {
	result := BatchResult{BID: bid}

	if raw, ok := fields["Fault"]; ok {
		var fault Fault
		if err := json.Unmarshal(raw, &fault); err != nil {
			return result, wrapError(KindBatch, fmt.Sprintf("undecodable fault for %s", bid), err)
		}
		result.Fault = &fault
		return result, nil
	}

	if raw, ok := fields["QueryResponse"]; ok {
		qr := &QueryResult{}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return result, wrapError(KindBatch, fmt.Sprintf("undecodable query response for %s", bid), err)
		}
		if v, ok := inner["startPosition"]; ok {
			_ = json.Unmarshal(v, &qr.StartPosition)
		}
		if v, ok := inner["maxResults"]; ok {
			_ = json.Unmarshal(v, &qr.MaxResults)
		}
		if v, ok := inner["totalCount"]; ok {
			_ = json.Unmarshal(v, &qr.TotalCount)
		}
		for k, v := range inner {
			if strings.EqualFold(k, op.entity) {
				if err := json.Unmarshal(v, &qr.Items); err != nil {
					return result, wrapError(KindBatch, fmt.Sprintf("undecodable query items for %s", bid), err)
				}
				break
			}
		}
		result.Query = qr
		return result, nil
	}

	for k, v := range fields {
		if strings.EqualFold(k, op.entity) {
			result.Entity = v
			return result, nil
		}
	}
	return result, newError(KindBatch, fmt.Sprintf("response item %s carried neither a payload nor a fault", bid))
}
