package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"data-engine/internal/common/logging"
	"data-engine/internal/common/utils"
	"data-engine/internal/connector"
	"data-engine/internal/query"
)

// generationTTL bounds how long a model generation marker lives. When it
// expires, reads mint a fresh generation and orphaned entries age out on
// their own TTL.
const generationTTL = 24 * time.Hour

// Results caches read-query result sets keyed by model generation plus a
// hash of the query IR. Invalidation bumps the model's generation, which
// strands every cached entry for that model without scanning the store.
type Results struct {
	store  Store
	ttl    time.Duration
	logger logging.Logger
}

func NewResults(store Store, ttl time.Duration) *Results {
	return &Results{
		store:  store,
		ttl:    ttl,
		logger: logging.Component("cache"),
	}
}

// Lookup returns the cached rows for a query, or false on any miss,
// decode failure or unkeyable query.
func (r *Results) Lookup(ctx context.Context, q *query.Query) ([]connector.Row, bool) {
	key, ok := r.resultKey(ctx, q)
	if !ok {
		return nil, false
	}

	value, found := r.store.Get(ctx, key)
	if !found {
		return nil, false
	}

	rows, ok := decodeRows(value)
	if !ok {
		r.logger.Warn("dropping undecodable cache entry",
			logging.String("model", q.Model),
			logging.String("key", key))
		r.store.Delete(ctx, key)
		return nil, false
	}
	return rows, true
}

// Store caches the rows for a query under the model's current generation.
// Rows are copied going in so later caller mutations never reach the
// cached entry.
func (r *Results) Store(ctx context.Context, q *query.Query, rows []connector.Row) {
	key, ok := r.resultKey(ctx, q)
	if !ok {
		return
	}
	if err := r.store.Set(ctx, key, cloneRows(rows), r.ttl); err != nil {
		r.logger.Warn("failed to cache query result",
			logging.String("model", q.Model),
			logging.Err(err))
	}
}

// Invalidate strands every cached entry for a model by rotating its
// generation marker. Called after any committed write touching the model.
func (r *Results) Invalidate(ctx context.Context, model string) {
	if err := r.store.Set(ctx, generationKey(model), utils.NewUUID(), generationTTL); err != nil {
		r.logger.Warn("failed to rotate cache generation",
			logging.String("model", model),
			logging.Err(err))
	}
}

func (r *Results) resultKey(ctx context.Context, q *query.Query) (string, bool) {
	encoded, err := json.Marshal(q)
	if err != nil {
		return "", false
	}
	gen, ok := r.generation(ctx, q.Model)
	if !ok {
		return "", false
	}

	h := fnv.New64a()
	h.Write(encoded)
	return fmt.Sprintf("results:%s:%s:%x", q.Model, gen, h.Sum64()), true
}

func (r *Results) generation(ctx context.Context, model string) (string, bool) {
	if value, found := r.store.Get(ctx, generationKey(model)); found {
		if gen, ok := value.(string); ok {
			return gen, true
		}
	}

	gen := utils.NewUUID()
	if err := r.store.Set(ctx, generationKey(model), gen, generationTTL); err != nil {
		return "", false
	}
	return gen, true
}

func generationKey(model string) string {
	return "gen:" + model
}

// decodeRows accepts both the local store's native row slices and the JSON
// shapes a shared store hands back. Native slices are copied so a hit never
// hands out the cached entry itself.
func decodeRows(value interface{}) ([]connector.Row, bool) {
	switch v := value.(type) {
	case []connector.Row:
		return cloneRows(v), true
	case []interface{}:
		rows := make([]connector.Row, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]interface{})
			if !ok {
				return nil, false
			}
			rows = append(rows, row)
		}
		return rows, true
	case nil:
		return nil, false
	}
	return nil, false
}

func cloneRows(rows []connector.Row) []connector.Row {
	out := make([]connector.Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}

func cloneRow(row connector.Row) connector.Row {
	out := make(connector.Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the shapes assembled instances carry: nested
// relation rows, relation lists and plain JSON values.
func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case connector.Row:
		return cloneRow(val)
	case []connector.Row:
		return cloneRows(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
