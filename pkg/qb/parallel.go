package qb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// ReadAll fetches many entities of one kind concurrently with a bounded
// worker pool. Every read goes through the executor, so the standard
// budget still applies; with more ids than remaining budget the whole call
// fails with KindThrottle, which keeps budget accounting honest rather
// than returning a silently truncated set.
func (q *QBContext) ReadAll(ctx context.Context, entity string, ids []string, workers int) ([]json.RawMessage, error) {
	if workers <= 0 {
		workers = 4
	}

	results := make([]json.RawMessage, len(ids))
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()

	for i, id := range ids {
		p.Go(func(ctx context.Context) error {
			item, err := q.Read(ctx, entity, id)
			if err != nil {
				return fmt.Errorf("read %s %s: %w", entity, id, err)
			}
			results[i] = item
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
