package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/common/validation"
	"data-engine/internal/schema"
)

// BuilderConfig bounds the queries the builder will produce
type BuilderConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxIncludeDepth int
}

// DefaultBuilderConfig returns the standard limits
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		DefaultPageSize: 50,
		MaxPageSize:     100,
		MaxIncludeDepth: 5,
	}
}

// Validate checks the configuration
func (c BuilderConfig) Validate() error {
	return validation.NewValidatorWithPrefix("query builder config").
		RequirePositive(c.DefaultPageSize, "defaultPageSize").
		RequirePositive(c.MaxPageSize, "maxPageSize").
		RequirePositive(c.MaxIncludeDepth, "maxIncludeDepth").
		Validate(func() error {
			if c.DefaultPageSize > c.MaxPageSize {
				return fmt.Errorf("defaultPageSize exceeds maxPageSize")
			}
			return nil
		}).
		Error()
}

// Builder turns raw request parameters into validated query IR. It is
// stateless after construction and safe for concurrent use.
type Builder struct {
	registry *schema.Registry
	config   BuilderConfig
	logger   logging.Logger
}

// NewBuilder creates a query builder bound to a schema registry
func NewBuilder(registry *schema.Registry, config BuilderConfig) (*Builder, error) {
	if registry == nil {
		return nil, errors.ConfigurationError("query builder requires a schema registry")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(err.Error())
	}
	return &Builder{
		registry: registry,
		config:   config,
		logger:   logging.Component("query-builder"),
	}, nil
}

// Build validates raw parameters against the registry and produces the IR.
// A page size above the configured maximum is clamped and reported as a
// warning, never rejected. Every other inconsistency is a validation error
// naming the offending field; no partial IR is ever returned alongside an
// error.
func (b *Builder) Build(modelName string, raw RawQuery) (*Query, []Warning, error) {
	q, warnings, err := b.build(modelName, raw, 0, true)
	if err != nil {
		return nil, nil, err
	}
	return q, warnings, nil
}

func (b *Builder) build(modelName string, raw RawQuery, depth int, topLevel bool) (*Query, []Warning, error) {
	model, err := b.registry.Resolve(modelName)
	if err != nil {
		return nil, nil, err
	}

	var warnings []Warning

	filter, err := b.buildFilter(model, raw.Filter)
	if err != nil {
		return nil, nil, err
	}

	sortFields, err := b.buildSort(model, raw.Sort)
	if err != nil {
		return nil, nil, err
	}

	pagination, err := b.buildPagination(model, raw, sortFields, topLevel, &warnings)
	if err != nil {
		return nil, nil, err
	}

	q := &Query{
		Model:      model.Name(),
		StorageKey: model.StorageKey(),
		Filter:     filter,
		Sort:       sortFields,
		Pagination: pagination,
	}

	if raw.Aggregate != nil {
		if len(raw.Include) > 0 {
			return nil, nil, errors.ValidationError("include cannot be combined with aggregation")
		}
		agg, err := b.buildAggregation(model, raw.Aggregate)
		if err != nil {
			return nil, nil, err
		}
		q.Aggregation = agg
		return q, warnings, nil
	}

	includes, nestedWarnings, err := b.buildIncludes(model, raw.Include, depth)
	if err != nil {
		return nil, nil, err
	}
	q.Includes = includes
	warnings = append(warnings, nestedWarnings...)

	return q, warnings, nil
}

// sortedKeys keeps filter and include construction deterministic across
// identical calls, since Go map iteration order is not.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Builder) buildFilter(model *schema.Model, raw map[string]interface{}) (*Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var parts []*Filter
	for _, key := range sortedKeys(raw) {
		value := raw[key]

		switch key {
		case "AND", "OR":
			children, err := b.buildFilterList(model, key, value)
			if err != nil {
				return nil, err
			}
			if key == "AND" {
				parts = append(parts, &Filter{And: children})
			} else {
				parts = append(parts, &Filter{Or: children})
			}

		case "NOT":
			inner, ok := value.(map[string]interface{})
			if !ok {
				return nil, errors.ValidationError("NOT takes a filter object")
			}
			child, err := b.buildFilter(model, inner)
			if err != nil {
				return nil, err
			}
			if child != nil {
				parts = append(parts, &Filter{Not: child})
			}

		default:
			conditions, err := b.buildFieldConditions(model, key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, conditions...)
		}
	}

	return AllOf(parts...), nil
}

func (b *Builder) buildFilterList(model *schema.Model, combinator string, value interface{}) ([]*Filter, error) {
	list, ok := value.([]interface{})
	if !ok {
		// a single filter object is accepted in place of a one-element list
		if single, isMap := value.(map[string]interface{}); isMap {
			list = []interface{}{single}
		} else {
			return nil, errors.ValidationError(fmt.Sprintf("%s takes a list of filter objects", combinator))
		}
	}

	children := make([]*Filter, 0, len(list))
	for _, elem := range list {
		inner, ok := elem.(map[string]interface{})
		if !ok {
			return nil, errors.ValidationError(fmt.Sprintf("%s takes a list of filter objects", combinator))
		}
		child, err := b.buildFilter(model, inner)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return nil, errors.ValidationError(fmt.Sprintf("%s requires at least one filter", combinator))
	}
	return children, nil
}

func (b *Builder) buildFieldConditions(model *schema.Model, name string, value interface{}) ([]*Filter, error) {
	field, ok := model.Field(name)
	if !ok {
		return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown field on model %q", model.Name()))
	}

	// a bare scalar is shorthand for equals
	opMap, isMap := value.(map[string]interface{})
	if !isMap {
		cond, err := buildCondition(field, OpEquals, value, false)
		if err != nil {
			return nil, err
		}
		return []*Filter{{Condition: cond}}, nil
	}

	caseInsensitive := false
	if rawCI, present := opMap["caseInsensitive"]; present {
		flag, ok := rawCI.(bool)
		if !ok {
			return nil, errors.FieldValidationError(name, "caseInsensitive must be a boolean")
		}
		caseInsensitive = flag
	}
	if caseInsensitive && !field.Type.Textual() {
		return nil, errors.FieldValidationError(name, "caseInsensitive requires a string field")
	}

	var out []*Filter
	for _, opName := range sortedKeys(opMap) {
		if opName == "caseInsensitive" {
			continue
		}
		op := Operator(opName)
		if !validOperator(op) {
			return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown operator %q", opName))
		}
		cond, err := buildCondition(field, op, opMap[opName], caseInsensitive)
		if err != nil {
			return nil, err
		}
		out = append(out, &Filter{Condition: cond})
	}
	if len(out) == 0 {
		return nil, errors.FieldValidationError(name, "condition object has no operator")
	}
	return out, nil
}

func validOperator(op Operator) bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

func buildCondition(field schema.Field, op Operator, value interface{}, caseInsensitive bool) (*Condition, error) {
	if op.Textual() && !field.Type.Textual() {
		return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("operator %s requires a string field", op))
	}
	if op.Comparative() && !field.Type.Orderable() {
		return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("operator %s requires an orderable field, got %s", op, field.Type))
	}

	cond := &Condition{Field: field.Name, Op: op, CaseInsensitive: caseInsensitive}

	switch {
	case op.Membership():
		list, ok := value.([]interface{})
		if !ok {
			return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("operator %s takes a list", op))
		}
		normalized := make([]interface{}, 0, len(list))
		for _, elem := range list {
			v, ok := field.Type.Normalize(elem)
			if !ok {
				return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("list element is not a %s", field.Type))
			}
			normalized = append(normalized, v)
		}
		cond.Value = normalized

	case op == OpMatches:
		pattern, ok := value.(string)
		if !ok {
			return nil, errors.FieldValidationError(field.Name, "operator matches takes a pattern string")
		}
		if caseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("invalid pattern: %v", err))
		}
		cond.Value = pattern
		cond.re = re

	case value == nil:
		if op != OpEquals && op != OpNot {
			return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("operator %s requires a value", op))
		}
		if !field.Nullable {
			return nil, errors.FieldValidationError(field.Name, "field is not nullable")
		}
		cond.Value = nil

	default:
		v, ok := field.Type.Normalize(value)
		if !ok {
			return nil, errors.FieldValidationError(field.Name, fmt.Sprintf("expected a %s value", field.Type))
		}
		cond.Value = v
	}

	return cond, nil
}

func (b *Builder) buildSort(model *schema.Model, raw []map[string]string) ([]SortField, error) {
	pk := model.PrimaryKey()

	out := make([]SortField, 0, len(raw)+1)
	seen := make(map[string]bool)

	for _, entry := range raw {
		if len(entry) != 1 {
			return nil, errors.ValidationError("sort entries must name exactly one field")
		}
		for name, dir := range entry {
			field, ok := model.Field(name)
			if !ok {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown field on model %q", model.Name()))
			}
			if !field.Type.Orderable() {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("cannot sort on a %s field", field.Type))
			}
			if seen[name] {
				return nil, errors.FieldValidationError(name, "field appears twice in sort")
			}
			direction := Direction(dir)
			if direction != Ascending && direction != Descending {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("sort direction must be %q or %q", Ascending, Descending))
			}
			seen[name] = true
			out = append(out, SortField{Field: name, Direction: direction})
		}
	}

	// deterministic pagination needs a total order
	if !seen[pk.Name] {
		out = append(out, SortField{Field: pk.Name, Direction: Ascending})
	}
	return out, nil
}

func (b *Builder) buildPagination(model *schema.Model, raw RawQuery, sortFields []SortField, topLevel bool, warnings *[]Warning) (Pagination, error) {
	p := Pagination{}

	if raw.Take != nil {
		take := *raw.Take
		if take <= 0 {
			return p, errors.FieldValidationError("take", "must be positive")
		}
		if take > b.config.MaxPageSize {
			*warnings = append(*warnings, Warning{
				Code:    WarningPageSizeClamped,
				Message: fmt.Sprintf("page size %d exceeds maximum %d and was clamped", take, b.config.MaxPageSize),
			})
			b.logger.Warn("clamped page size",
				logging.String("model", model.Name()),
				logging.Int("requested", take),
				logging.Int("max", b.config.MaxPageSize))
			take = b.config.MaxPageSize
		}
		p.Limit = take
	} else if topLevel {
		p.Limit = b.config.DefaultPageSize
	}

	if raw.Skip != nil {
		if *raw.Skip < 0 {
			return p, errors.FieldValidationError("skip", "must not be negative")
		}
		p.Offset = *raw.Skip
	}

	if raw.Cursor != nil {
		if raw.Skip != nil {
			return p, errors.ValidationError("cursor and skip are mutually exclusive")
		}
		cursor, err := buildCursor(model, raw.Cursor)
		if err != nil {
			return p, err
		}
		for _, s := range sortFields {
			if s.Direction != Ascending {
				return p, errors.ValidationError("cursor pagination requires ascending sort")
			}
		}
		p.Cursor = cursor
	}

	return p, nil
}

// buildCursor accepts either the bare primary-key value or a one-entry
// object keyed by the primary-key field.
func buildCursor(model *schema.Model, raw interface{}) (*Cursor, error) {
	pk := model.PrimaryKey()

	value := raw
	if m, isMap := raw.(map[string]interface{}); isMap {
		if len(m) != 1 {
			return nil, errors.FieldValidationError("cursor", "cursor object must name exactly the primary key")
		}
		inner, ok := m[pk.Name]
		if !ok {
			return nil, errors.FieldValidationError("cursor", fmt.Sprintf("cursor must be keyed on primary key %q", pk.Name))
		}
		value = inner
	}

	v, ok := pk.Type.Normalize(value)
	if !ok {
		return nil, errors.FieldValidationError("cursor", fmt.Sprintf("cursor value is not a %s", pk.Type))
	}
	return &Cursor{Field: pk.Name, Value: v}, nil
}

func (b *Builder) buildIncludes(model *schema.Model, raw map[string]interface{}, depth int) ([]Include, []Warning, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	if depth >= b.config.MaxIncludeDepth {
		return nil, nil, errors.ValidationError(fmt.Sprintf("include depth exceeds maximum %d", b.config.MaxIncludeDepth))
	}

	var includes []Include
	var warnings []Warning

	for _, name := range sortedKeys(raw) {
		relation, ok := model.Relation(name)
		if !ok {
			return nil, nil, errors.FieldValidationError(name, fmt.Sprintf("unknown relation on model %q", model.Name()))
		}

		var nested RawQuery
		switch v := raw[name].(type) {
		case bool:
			if !v {
				continue
			}
		case map[string]interface{}:
			// same decode path the transport uses, so nested shapes stay
			// identical to top-level ones
			data, err := json.Marshal(v)
			if err != nil {
				return nil, nil, errors.FieldValidationError(name, "malformed include object")
			}
			if err := json.Unmarshal(data, &nested); err != nil {
				return nil, nil, errors.FieldValidationError(name, fmt.Sprintf("malformed include object: %v", err))
			}
			if nested.Aggregate != nil {
				return nil, nil, errors.FieldValidationError(name, "includes cannot aggregate")
			}
		default:
			return nil, nil, errors.FieldValidationError(name, "include takes true or a nested query object")
		}

		sub, nestedWarnings, err := b.build(relation.Target, nested, depth+1, false)
		if err != nil {
			return nil, nil, err
		}
		includes = append(includes, Include{Relation: relation, Query: sub})
		warnings = append(warnings, nestedWarnings...)
	}

	return includes, warnings, nil
}

func (b *Builder) buildAggregation(model *schema.Model, raw *RawAggregation) (*Aggregation, error) {
	agg := &Aggregation{Count: raw.Count}

	numeric := func(kind AggregateKind, names []string) ([]string, error) {
		out := make([]string, 0, len(names))
		for _, name := range names {
			field, ok := model.Field(name)
			if !ok {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown field on model %q", model.Name()))
			}
			if field.Type != schema.FieldTypeInt && field.Type != schema.FieldTypeFloat {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("%s requires a numeric field", kind))
			}
			out = append(out, name)
		}
		return out, nil
	}

	orderable := func(kind AggregateKind, names []string) ([]string, error) {
		out := make([]string, 0, len(names))
		for _, name := range names {
			field, ok := model.Field(name)
			if !ok {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown field on model %q", model.Name()))
			}
			if !field.Type.Orderable() {
				return nil, errors.FieldValidationError(name, fmt.Sprintf("%s requires an orderable field", kind))
			}
			out = append(out, name)
		}
		return out, nil
	}

	var err error
	if agg.Avg, err = numeric(AggregateAvg, raw.Avg); err != nil {
		return nil, err
	}
	if agg.Sum, err = numeric(AggregateSum, raw.Sum); err != nil {
		return nil, err
	}
	if agg.Min, err = orderable(AggregateMin, raw.Min); err != nil {
		return nil, err
	}
	if agg.Max, err = orderable(AggregateMax, raw.Max); err != nil {
		return nil, err
	}

	if !agg.Count && len(agg.Avg)+len(agg.Sum)+len(agg.Min)+len(agg.Max) == 0 {
		return nil, errors.ValidationError("aggregation requests no computation")
	}

	for _, name := range raw.GroupBy {
		if _, ok := model.Field(name); !ok {
			return nil, errors.FieldValidationError(name, fmt.Sprintf("unknown field on model %q", model.Name()))
		}
		agg.GroupBy = append(agg.GroupBy, name)
	}

	if len(raw.Having) > 0 {
		if len(agg.GroupBy) == 0 {
			return nil, errors.ValidationError("having requires groupBy")
		}
		having, err := b.buildHaving(model, agg, raw.Having)
		if err != nil {
			return nil, err
		}
		agg.Having = having
	}

	return agg, nil
}

// buildHaving validates a filter over aggregate result rows. Keys resolve
// to group-by fields or aggregate keys ("count", "avg.age", ...), each with
// a synthetic field type matching the aggregate's output.
func (b *Builder) buildHaving(model *schema.Model, agg *Aggregation, raw map[string]interface{}) (*Filter, error) {
	resolve := func(key string) (schema.Field, bool) {
		if key == string(AggregateCount) {
			return schema.Field{Name: key, Type: schema.FieldTypeInt}, true
		}
		for _, name := range agg.GroupBy {
			if key == name {
				field, _ := model.Field(name)
				return field, true
			}
		}
		for kind, fields := range map[AggregateKind][]string{
			AggregateAvg: agg.Avg, AggregateSum: agg.Sum,
			AggregateMin: agg.Min, AggregateMax: agg.Max,
		} {
			for _, name := range fields {
				if key != AggregateKey(kind, name) {
					continue
				}
				if kind == AggregateMin || kind == AggregateMax {
					field, _ := model.Field(name)
					return schema.Field{Name: key, Type: field.Type}, true
				}
				return schema.Field{Name: key, Type: schema.FieldTypeFloat}, true
			}
		}
		return schema.Field{}, false
	}

	var parts []*Filter
	for _, key := range sortedKeys(raw) {
		field, ok := resolve(key)
		if !ok {
			return nil, errors.FieldValidationError(key, "having references neither a groupBy field nor a requested aggregate")
		}

		opMap, isMap := raw[key].(map[string]interface{})
		if !isMap {
			cond, err := buildCondition(field, OpEquals, raw[key], false)
			if err != nil {
				return nil, err
			}
			parts = append(parts, &Filter{Condition: cond})
			continue
		}
		for _, opName := range sortedKeys(opMap) {
			op := Operator(opName)
			if !validOperator(op) {
				return nil, errors.FieldValidationError(key, fmt.Sprintf("unknown operator %q", opName))
			}
			cond, err := buildCondition(field, op, opMap[opName], false)
			if err != nil {
				return nil, err
			}
			parts = append(parts, &Filter{Condition: cond})
		}
	}
	return AllOf(parts...), nil
}
