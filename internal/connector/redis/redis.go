// Package redis provides a connector backed by a Redis instance. Each row
// is a JSON document keyed by primary key, with a per-model set tracking
// membership. The adapter declares no capabilities: the coordinator runs
// it auto-committed and the engine keeps joins and aggregation on its own
// side.
package redis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/connector/base"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

const connectTimeout = 5 * time.Second

// Connector reads and writes JSON row documents on a Redis instance
type Connector struct {
	*base.BaseConnector
	rdb    *redis.Client
	prefix string
	types  map[string]map[string]schema.FieldType
}

// NewConnector connects to Redis and verifies the instance is reachable
func NewConnector(config *Config) (*Connector, error) {
	baseConnector, err := base.NewBaseConnector("redis", connector.Capabilities{}, config)
	if err != nil {
		return nil, err
	}

	poolSize := config.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "engine"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.TransientConnectorError("redis", err)
	}

	types := make(map[string]map[string]schema.FieldType)
	for _, name := range config.Models.Models() {
		model, err := config.Models.Resolve(name)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		byField := types[model.StorageKey()]
		if byField == nil {
			byField = make(map[string]schema.FieldType)
			types[model.StorageKey()] = byField
		}
		for _, f := range model.Fields() {
			byField[f.Name] = f.Type
		}
	}

	return &Connector{
		BaseConnector: baseConnector,
		rdb:           rdb,
		prefix:        prefix,
		types:         types,
	}, nil
}

func (c *Connector) rowKey(storageKey, member string) string {
	return fmt.Sprintf("%s:%s:row:%s", c.prefix, storageKey, member)
}

func (c *Connector) idsKey(storageKey string) string {
	return fmt.Sprintf("%s:%s:ids", c.prefix, storageKey)
}

func pkKey(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func cloneRow(row connector.Row) connector.Row {
	out := make(connector.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Execute loads the model's documents, filters and orders them locally,
// and applies the pagination window.
func (c *Connector) Execute(ctx context.Context, q *query.Query, session connector.Session) (connector.RowStream, error) {
	if session != nil {
		return nil, errors.ConnectorError("redis", fmt.Errorf("foreign session type %T", session))
	}
	if q.Aggregation != nil {
		return nil, errors.UnsupportedError("redis", "Aggregation")
	}

	rows, err := c.loadRows(ctx, q.StorageKey)
	if err != nil {
		return nil, err
	}

	var matched []connector.Row
	for _, row := range rows {
		if query.Eval(q.Filter, row) {
			matched = append(matched, row)
		}
	}

	query.SortRows(matched, q.Sort)
	return connector.NewSliceStream(applyWindow(matched, q.Pagination)), nil
}

func applyWindow(rows []connector.Row, p query.Pagination) []connector.Row {
	if p.Cursor != nil {
		// a cursor row that no longer exists yields an empty page, matching
		// the other adapters
		after := -1
		for i, row := range rows {
			if query.Matches(&query.Condition{Field: p.Cursor.Field, Op: query.OpEquals, Value: p.Cursor.Value}, row[p.Cursor.Field]) {
				after = i
				break
			}
		}
		if after == -1 {
			return nil
		}
		rows = rows[after+1:]
	} else if p.Offset > 0 {
		if p.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[p.Offset:]
		}
	}

	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows
}

// Write applies one mutation. Every write commits immediately; the adapter
// has no sessions.
func (c *Connector) Write(ctx context.Context, op *query.WriteOperation, session connector.Session) (*connector.WriteResult, error) {
	if session != nil {
		return nil, errors.ConnectorError("redis", fmt.Errorf("foreign session type %T", session))
	}

	switch op.Kind {
	case query.WriteCreate:
		return c.create(ctx, op)

	case query.WriteUpdate:
		return c.update(ctx, op)

	case query.WriteUpsert:
		result, err := c.update(ctx, op)
		if err != nil {
			return nil, err
		}
		if result.Affected > 0 {
			return result, nil
		}
		created, err := c.create(ctx, op)
		if err != nil {
			return nil, err
		}
		created.Created = true
		return created, nil

	case query.WriteDelete:
		return c.remove(ctx, op)
	}

	return nil, errors.ConnectorError("redis", fmt.Errorf("unknown write kind %q", op.Kind))
}

func (c *Connector) create(ctx context.Context, op *query.WriteOperation) (*connector.WriteResult, error) {
	pkValue, ok := op.Values[op.PrimaryKey]
	if !ok || pkValue == nil {
		return nil, errors.ConnectorError("redis", fmt.Errorf("create without primary key %q", op.PrimaryKey))
	}
	member := pkKey(pkValue)

	data, err := encodeRow(op.Values)
	if err != nil {
		return nil, err
	}

	// SETNX decides the duplicate check and the insert in one step
	stored, err := c.rdb.SetNX(ctx, c.rowKey(op.StorageKey, member), data, 0).Result()
	if err != nil {
		return nil, mapError(err)
	}
	if !stored {
		return nil, errors.ConnectorError("redis", fmt.Errorf("duplicate primary key %v", pkValue)).WithCode("duplicate_key")
	}
	if err := c.rdb.SAdd(ctx, c.idsKey(op.StorageKey), member).Err(); err != nil {
		return nil, mapError(err)
	}

	return &connector.WriteResult{Row: cloneRow(op.Values), Affected: 1}, nil
}

func (c *Connector) update(ctx context.Context, op *query.WriteOperation) (*connector.WriteResult, error) {
	rows, err := c.loadRows(ctx, op.StorageKey)
	if err != nil {
		return nil, err
	}

	result := &connector.WriteResult{}
	for _, row := range rows {
		if !query.Eval(op.Filter, row) {
			continue
		}

		oldMember := pkKey(row[op.PrimaryKey])
		for k, v := range op.Values {
			row[k] = v
		}
		newMember := pkKey(row[op.PrimaryKey])

		data, err := encodeRow(row)
		if err != nil {
			return nil, err
		}

		pipe := c.rdb.TxPipeline()
		if newMember != oldMember {
			// updating the primary key re-keys the document
			pipe.Del(ctx, c.rowKey(op.StorageKey, oldMember))
			pipe.SRem(ctx, c.idsKey(op.StorageKey), oldMember)
			pipe.SAdd(ctx, c.idsKey(op.StorageKey), newMember)
		}
		pipe.Set(ctx, c.rowKey(op.StorageKey, newMember), data, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, mapError(err)
		}

		result.Row = cloneRow(row)
		result.Affected++
	}
	return result, nil
}

func (c *Connector) remove(ctx context.Context, op *query.WriteOperation) (*connector.WriteResult, error) {
	rows, err := c.loadRows(ctx, op.StorageKey)
	if err != nil {
		return nil, err
	}

	result := &connector.WriteResult{}
	for _, row := range rows {
		if !query.Eval(op.Filter, row) {
			continue
		}
		member := pkKey(row[op.PrimaryKey])

		pipe := c.rdb.TxPipeline()
		pipe.Del(ctx, c.rowKey(op.StorageKey, member))
		pipe.SRem(ctx, c.idsKey(op.StorageKey), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, mapError(err)
		}
		result.Affected++
	}
	return result, nil
}

// loadRows fetches every document of one storage key. Members whose
// document is gone, for example after an external expiry, are skipped.
func (c *Connector) loadRows(ctx context.Context, storageKey string) ([]connector.Row, error) {
	members, err := c.rdb.SMembers(ctx, c.idsKey(storageKey)).Result()
	if err != nil {
		return nil, mapError(err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	sort.Strings(members)

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = c.rowKey(storageKey, m)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapError(err)
	}

	rows := make([]connector.Row, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		row, err := c.decodeRow(storageKey, []byte(data))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Begin always fails; the adapter declares no transaction capability and
// the coordinator runs it auto-committed instead.
func (c *Connector) Begin(ctx context.Context) (connector.Session, error) {
	return nil, errors.UnsupportedError("redis", "Transactions")
}

// Health pings the instance
func (c *Connector) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.TransientConnectorError("redis", err)
	}
	return nil
}

// Close releases the client's connection pool
func (c *Connector) Close() error {
	return c.rdb.Close()
}

func encodeRow(row connector.Row) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, errors.InternalError("serializing row document", err)
	}
	return data, nil
}

// decodeRow rehydrates a stored document. JSON flattens the engine's value
// types, so numbers, timestamps and blobs are restored from the schema's
// field types.
func (c *Connector) decodeRow(storageKey string, data []byte) (connector.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.InternalError("decoding row document", err)
	}

	fields := c.types[storageKey]
	row := make(connector.Row, len(raw))
	for k, v := range raw {
		decoded, err := decodeValue(fields[k], v)
		if err != nil {
			return nil, errors.InternalError("decoding field "+k, err)
		}
		row[k] = decoded
	}
	return row, nil
}

func decodeValue(ft schema.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case schema.FieldTypeInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n.Int64()

	case schema.FieldTypeFloat:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return n.Float64()

	case schema.FieldTypeDatetime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", v)
		}
		return time.Parse(time.RFC3339Nano, s)

	case schema.FieldTypeBytes:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %T", v)
		}
		return base64.StdEncoding.DecodeString(s)

	case schema.FieldTypeBool, schema.FieldTypeString:
		return v, nil
	}
	return looseValue(v), nil
}

// looseValue matches what a plain json.Unmarshal would produce for
// untyped content: numbers widen to float64.
func looseValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]interface{}:
		for k, elem := range t {
			t[k] = looseValue(elem)
		}
		return t
	case []interface{}:
		for i, elem := range t {
			t[i] = looseValue(elem)
		}
		return t
	}
	return v
}

// mapError wraps a Redis failure. Failures against a shared instance are
// almost always network trouble, which is worth retrying.
func mapError(err error) error {
	return errors.TransientConnectorError("redis", err)
}

var _ connector.Connector = (*Connector)(nil)
