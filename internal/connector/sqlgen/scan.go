package sqlgen

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/schema"
)

// timeLayouts covers the text shapes SQLite hands back when the declared
// type is lost through a derived table.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ScanRow reads the current result row into engine-canonical values keyed
// by column name.
func ScanRow(rows *sql.Rows, cols []Column) (connector.Row, error) {
	raw := make([]interface{}, len(cols))
	targets := make([]interface{}, len(cols))
	for i := range raw {
		targets[i] = &raw[i]
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}

	row := make(connector.Row, len(cols))
	for i, col := range cols {
		v, err := CoerceValue(col.Type, raw[i])
		if err != nil {
			return nil, errors.InternalError("decoding column "+col.Name, err)
		}
		row[col.Name] = v
	}
	return row, nil
}

// CoerceValue converts a driver value into the canonical engine
// representation for a field type. Drivers disagree on what comes back for
// booleans, timestamps and numerics once type metadata is lost, so every
// plausible shape is accepted.
func CoerceValue(t schema.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.FieldTypeInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case []byte:
			return strconv.ParseInt(string(n), 10, 64)
		case string:
			return strconv.ParseInt(n, 10, 64)
		}

	case schema.FieldTypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case []byte:
			return strconv.ParseFloat(string(n), 64)
		case string:
			return strconv.ParseFloat(n, 64)
		}

	case schema.FieldTypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case []byte:
			return strconv.ParseBool(string(b))
		case string:
			return strconv.ParseBool(b)
		}

	case schema.FieldTypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}

	case schema.FieldTypeDateTime:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			return parseTime(d)
		case []byte:
			return parseTime(string(d))
		}

	case schema.FieldTypeBytes:
		switch raw := v.(type) {
		case []byte:
			out := make([]byte, len(raw))
			copy(out, raw)
			return out, nil
		case string:
			return []byte(raw), nil
		}

	case schema.FieldTypeJSON:
		var raw []byte
		switch j := v.(type) {
		case []byte:
			raw = j
		case string:
			raw = []byte(j)
		default:
			return v, nil
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("unexpected driver value %T for %s column", v, t)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
