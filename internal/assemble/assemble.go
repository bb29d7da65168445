// Package assemble merges raw connector rows with fetched relation rows
// into the instance graph handed back to the caller. The engine retains
// no reference to the assembled graph after the call returns.
package assemble

import (
	"fmt"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/schema"
)

// Included carries the rows fetched for one relation inclusion, plus any
// nested inclusions below it. The engine builds these when a backend lacks
// native joined includes; backends that join natively return rows already
// carrying their relation values and need no Included sets.
type Included struct {
	Relation schema.Relation
	Model    *schema.Model
	Rows     []connector.Row
	Nested   []Included
}

// Assembler builds instance graphs out of flat connector rows.
type Assembler struct{}

func New() *Assembler {
	return &Assembler{}
}

// Assemble returns one instance per row, de-duplicated by primary key (the
// first row for a key wins; later rows are dropped, not merged). Include
// rows are assembled recursively and merged in by foreign-key match:
// to-one relations overwrite on duplicate matches, to-many relations append
// unique children keyed by the child primary key.
func (a *Assembler) Assemble(model *schema.Model, rows []connector.Row, includes []Included) ([]connector.Row, error) {
	if model == nil {
		return nil, errors.InternalError("assemble requires a model", nil)
	}

	instances := dedupe(rows, model.PrimaryKey().Name)

	for _, inc := range includes {
		if inc.Model == nil {
			return nil, errors.InternalError(fmt.Sprintf("include %q carries no target model", inc.Relation.Name), nil)
		}
		children, err := a.Assemble(inc.Model, inc.Rows, inc.Nested)
		if err != nil {
			return nil, err
		}

		switch inc.Relation.Cardinality {
		case schema.CardinalityOne:
			attachOne(instances, inc.Relation, children)
		case schema.CardinalityMany:
			attachMany(instances, inc.Relation, children, inc.Model.PrimaryKey().Name)
		default:
			return nil, errors.InternalError(fmt.Sprintf("include %q has unknown cardinality %q", inc.Relation.Name, inc.Relation.Cardinality), nil)
		}
	}

	return instances, nil
}

// dedupe copies rows into caller-owned instances, collapsing rows that share
// a primary key. Rows without a primary key value are kept as-is; there is
// nothing to key them by.
func dedupe(rows []connector.Row, pkField string) []connector.Row {
	instances := make([]connector.Row, 0, len(rows))
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		pk, ok := row[pkField]
		if ok && pk != nil {
			key := joinKey(pk)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		instance := make(connector.Row, len(row))
		for k, v := range row {
			instance[k] = v
		}
		instances = append(instances, instance)
	}
	return instances
}

// attachOne matches parent foreign keys against the referenced child field.
// A parent with no match (or a nil foreign key) gets an explicit nil so the
// relation is always present on the instance.
func attachOne(parents []connector.Row, rel schema.Relation, children []connector.Row) {
	byRef := make(map[string]connector.Row, len(children))
	for _, child := range children {
		ref, ok := child[rel.References]
		if !ok || ref == nil {
			continue
		}
		byRef[joinKey(ref)] = child
	}

	for _, parent := range parents {
		fk, ok := parent[rel.ForeignKey]
		if !ok || fk == nil {
			parent[rel.Name] = nil
			continue
		}
		if child, found := byRef[joinKey(fk)]; found {
			parent[rel.Name] = child
		} else {
			parent[rel.Name] = nil
		}
	}
}

// attachMany matches child foreign keys against the referenced parent field.
// Every parent gets a list, empty when nothing matched; a child appearing
// twice for one parent is appended once.
func attachMany(parents []connector.Row, rel schema.Relation, children []connector.Row, childPK string) {
	byRef := make(map[string][]int, len(parents))
	for i, parent := range parents {
		parent[rel.Name] = []connector.Row{}
		ref, ok := parent[rel.References]
		if !ok || ref == nil {
			continue
		}
		byRef[joinKey(ref)] = append(byRef[joinKey(ref)], i)
	}

	attached := make(map[string]map[string]bool, len(parents))
	for _, child := range children {
		fk, ok := child[rel.ForeignKey]
		if !ok || fk == nil {
			continue
		}
		for _, idx := range byRef[joinKey(fk)] {
			parent := parents[idx]
			parentKey := fmt.Sprintf("%d", idx)
			if attached[parentKey] == nil {
				attached[parentKey] = make(map[string]bool)
			}
			if pk, ok := child[childPK]; ok && pk != nil {
				childKey := joinKey(pk)
				if attached[parentKey][childKey] {
					continue
				}
				attached[parentKey][childKey] = true
			}
			parent[rel.Name] = append(parent[rel.Name].([]connector.Row), child)
		}
	}
}

// joinKey renders a key value in a type-insensitive form so an int64 row id
// matches the float64 the JSON layer produced for the same number.
func joinKey(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	case int:
		return fmt.Sprintf("%d", n)
	case int32:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%v", v)
}
