// Package database builds parameterized SELECT statements with sanitized identifiers.
package database

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is the comparison operator of a Condition.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	ILike              ConditionType = "ILIKE"
	In                 ConditionType = "IN"
	IsNull             ConditionType = "IS NULL"
	IsNotNull          ConditionType = "IS NOT NULL"

	unset = -1
)

// Condition is one AND-ed predicate of a WHERE clause.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

// WhereCond builds a Condition. Value is ignored for IsNull and IsNotNull.
func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

type orderTerm struct {
	column string
	dir    string
}

// ListQueryOptions describes a SELECT against a single table.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	Limit      int
	Offset     int

	order []orderTerm
}

// ListQueryOption mutates ListQueryOptions.
type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions creates options for table with the given modifiers applied.
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{Table: table, Limit: unset, Offset: unset}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition adds a single condition.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithOrderBy appends an ordering term. Direction other than ASC/DESC is dropped.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.order = append(o.order, orderTerm{column: column, dir: strings.ToUpper(strings.TrimSpace(direction))})
	}
}

// WithLimit sets the limit. Accepts 0.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Accepts 0.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly turns the query into SELECT COUNT(*) and drops ordering and pagination.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

// BuildListQuery renders the query and its positional arguments.
//
//	query, args := BuildListQuery(NewListQueryOptions("scan_jobs",
//		WithColumns("id", "status"),
//		WithCondition(WhereCond("status", Equal, "running")),
//		WithOrderBy("created_at", "DESC"),
//		WithLimit(50),
//	))
//	// SELECT "id", "status" FROM "scan_jobs" WHERE "status" = $1 ORDER BY "created_at" DESC LIMIT $2
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var q strings.Builder
	q.WriteString(selectClause(options))
	q.WriteString(" FROM ")
	q.WriteString(quote(options.Table))

	var args []any
	var where []string
	for _, cond := range options.Conditions {
		clause, condArgs := renderCondition(cond, len(args)+1)
		if clause == "" {
			continue
		}
		where = append(where, clause)
		args = append(args, condArgs...)
	}
	if len(where) > 0 {
		q.WriteString(" WHERE ")
		q.WriteString(strings.Join(where, " AND "))
	}

	if options.CountOnly {
		return q.String(), args
	}

	if len(options.order) > 0 {
		terms := make([]string, 0, len(options.order))
		for _, t := range options.order {
			term := quote(t.column)
			if t.dir == "ASC" || t.dir == "DESC" {
				term += " " + t.dir
			}
			terms = append(terms, term)
		}
		q.WriteString(" ORDER BY ")
		q.WriteString(strings.Join(terms, ", "))
	}
	if options.Limit != unset {
		args = append(args, options.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}
	if options.Offset != unset {
		args = append(args, options.Offset)
		fmt.Fprintf(&q, " OFFSET $%d", len(args))
	}
	return q.String(), args
}

func selectClause(options *ListQueryOptions) string {
	if options.CountOnly {
		return "SELECT COUNT(*)"
	}
	if len(options.Columns) == 0 {
		return "SELECT *"
	}
	cols := make([]string, len(options.Columns))
	for i, c := range options.Columns {
		cols[i] = quote(c)
	}
	return "SELECT " + strings.Join(cols, ", ")
}

func renderCondition(cond Condition, next int) (string, []any) {
	if strings.TrimSpace(cond.Field) == "" {
		return "", nil
	}
	field := quote(cond.Field)

	switch cond.Type {
	case IsNull, IsNotNull:
		return field + " " + string(cond.Type), nil
	case In:
		rv := reflect.ValueOf(cond.Value)
		if rv.Kind() != reflect.Slice || rv.Len() == 0 {
			return "", nil
		}
		placeholders := make([]string, rv.Len())
		args := make([]any, rv.Len())
		for i := range rv.Len() {
			placeholders[i] = fmt.Sprintf("$%d", next+i)
			args[i] = rv.Index(i).Interface()
		}
		return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", ")), args
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual, ILike:
		return fmt.Sprintf("%s %s $%d", field, cond.Type, next), []any{cond.Value}
	default:
		return "", nil
	}
}

// quote sanitizes a possibly qualified identifier such as "scan_jobs.id".
func quote(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}
