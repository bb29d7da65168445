// Package sqlgen compiles query IR into SQL for the database/sql based
// adapters. A Dialect supplies the placeholder style, column types and the
// handful of expressions SQLite and PostgreSQL spell differently; the
// Compiler owns everything both engines share, including the schema-derived
// table layout used for scanning and migration.
package sqlgen

import (
	"sort"
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// Dialect is the engine-specific part of SQL generation.
type Dialect interface {
	Name() string
	// Placeholder renders the n-th bind parameter, 1-based.
	Placeholder(n int) string
	ColumnType(t schema.FieldType) string
	// OrderDirection renders a sort direction including the null ordering
	// needed to match the evaluator, which sorts nil before everything.
	OrderDirection(d query.Direction) string
	LimitOffset(limit, offset int) string
	LikeMatch(col, placeholder string, caseInsensitive bool) string
	RegexpMatch(col, placeholder string, caseInsensitive bool) string
	// RegexpArg rewrites the pattern value for dialects whose regexp
	// function has no case-insensitivity switch of its own.
	RegexpArg(pattern string, caseInsensitive bool) string
}

// Column is one scan target of a compiled statement.
type Column struct {
	Name string
	Type schema.FieldType
}

// Table is the storage layout of one model.
type Table struct {
	Name       string
	PrimaryKey string
	Columns    []Column
	types      map[string]schema.FieldType
}

func (t Table) columnType(field string) (schema.FieldType, bool) {
	ft, ok := t.types[field]
	return ft, ok
}

func (t Table) columnList(prefix string) string {
	parts := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		parts[i] = prefix + quote(col.Name)
	}
	return strings.Join(parts, ", ")
}

// Statement is one compiled SQL statement with its bind arguments and the
// column layout result rows scan into. NeedsWindow marks a related-rows
// select whose pagination could not be pushed into SQL; the adapter applies
// the per-parent window itself.
type Statement struct {
	SQL         string
	Args        []interface{}
	Columns     []Column
	NeedsWindow bool
}

// Compiler turns query IR into dialect-specific SQL using the table layout
// derived from a schema registry.
type Compiler struct {
	dialect Dialect
	reg     *schema.Registry
	tables  map[string]Table
}

// NewCompiler derives the table layout for every registered model.
func NewCompiler(d Dialect, reg *schema.Registry) (*Compiler, error) {
	c := &Compiler{
		dialect: d,
		reg:     reg,
		tables:  make(map[string]Table),
	}
	for _, name := range reg.Models() {
		model, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		c.addModel(model)
	}
	return c, nil
}

// addModel merges a model into the table map. Models sharing a storage key
// have identical constraint signatures, so merging columns by name is safe.
func (c *Compiler) addModel(m *schema.Model) {
	t, ok := c.tables[m.StorageKey()]
	if !ok {
		t = Table{
			Name:       m.StorageKey(),
			PrimaryKey: m.PrimaryKey().Name,
			types:      make(map[string]schema.FieldType),
		}
	}
	for _, f := range m.Fields() {
		if _, seen := t.types[f.Name]; seen {
			continue
		}
		t.types[f.Name] = f.Type
		t.Columns = append(t.Columns, Column{Name: f.Name, Type: f.Type})
	}
	c.tables[m.StorageKey()] = t
}

// Table looks up the layout for a storage key.
func (c *Compiler) Table(storageKey string) (Table, error) {
	t, ok := c.tables[storageKey]
	if !ok {
		return Table{}, errors.InternalError("no table layout for storage key "+storageKey, nil)
	}
	return t, nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

type stmtBuilder struct {
	dialect Dialect
	args    []interface{}
}

func (b *stmtBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func sortedKeys(m map[string]Table) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
