package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"data-engine/internal/schema"
)

// DDL renders idempotent migration statements for every registered model:
// one CREATE TABLE per storage key plus indexes on relation foreign keys.
// Defaults are not encoded in the schema since the engine applies them
// before a row reaches the connector; only the primary key is NOT NULL
// because required fields are enforced by the validation stage, not the
// storage layer.
func (c *Compiler) DDL() ([]string, error) {
	var stmts []string
	uniques := make(map[string][]string)

	names := c.reg.Models()
	sort.Strings(names)
	for _, name := range names {
		model, err := c.reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		for _, constraint := range model.Constraints() {
			if constraint.Kind != schema.ConstraintUnique {
				continue
			}
			if len(constraint.Fields) == 1 && constraint.Fields[0] == model.PrimaryKey().Name {
				continue
			}
			uniques[model.StorageKey()] = append(uniques[model.StorageKey()], uniqueClause(constraint.Fields))
		}
	}

	for _, key := range sortedKeys(c.tables) {
		t := c.tables[key]
		defs := make([]string, 0, len(t.Columns)+2)
		for _, col := range t.Columns {
			def := quote(col.Name) + " " + c.dialect.ColumnType(col.Type)
			if col.Name == t.PrimaryKey {
				def += " NOT NULL"
			}
			defs = append(defs, def)
		}
		defs = append(defs, "PRIMARY KEY ("+quote(t.PrimaryKey)+")")
		defs = append(defs, dedupe(uniques[key])...)

		stmts = append(stmts, "CREATE TABLE IF NOT EXISTS "+quote(t.Name)+" (\n\t"+
			strings.Join(defs, ",\n\t")+"\n)")
	}

	indexStmts, err := c.foreignKeyIndexes(names)
	if err != nil {
		return nil, err
	}
	return append(stmts, indexStmts...), nil
}

func (c *Compiler) foreignKeyIndexes(names []string) ([]string, error) {
	seen := make(map[string]bool)
	var stmts []string
	for _, name := range names {
		model, err := c.reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		for _, rel := range model.Relations() {
			table := model.StorageKey()
			if rel.Cardinality == schema.CardinalityMany {
				target, err := c.reg.Resolve(rel.Target)
				if err != nil {
					return nil, err
				}
				table = target.StorageKey()
			}
			idx := fmt.Sprintf("idx_%s_%s", table, rel.ForeignKey)
			if seen[idx] {
				continue
			}
			seen[idx] = true
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
				quote(idx), quote(table), quote(rel.ForeignKey)))
		}
	}
	sort.Strings(stmts)
	return stmts, nil
}

func uniqueClause(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quote(f)
	}
	return "UNIQUE (" + strings.Join(quoted, ", ") + ")"
}

func dedupe(clauses []string) []string {
	seen := make(map[string]bool, len(clauses))
	out := clauses[:0]
	for _, clause := range clauses {
		if seen[clause] {
			continue
		}
		seen[clause] = true
		out = append(out, clause)
	}
	return out
}
