// Package storage is the persistence layer of the Atlas System monitor.
//
// It is built around a small reflection-based ORM on top of database/sql:
//   - struct tags map columns to fields (`db:"column,flags"`)
//   - SelectBuilder composes SELECT queries fluently
//   - Repository provides generic CRUD per entity
//   - Gateway owns every multi-row or compare-and-set write the checker
//     pipeline performs
//
// SQLite (github.com/mattn/go-sqlite3) is the only supported engine.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ORM represents the lightweight ORM instance.
type ORM struct {
	// db is the underlying SQLite database connection
	db *sql.DB

	// q runs statements; it is db itself or a transaction bound to it
	q querier

	// migrator handles schema migrations
	migrator *Migrator
}

// NewORM creates a new ORM instance with the provided database connection.
//
// The migrator is initialized here; callers apply it with Migrate.
func NewORM(db *sql.DB) (*ORM, error) {
	orm := &ORM{
		db: db,
		q:  db,
	}

	migrator, err := NewMigrator(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	orm.migrator = migrator

	return orm, nil
}

// Migrate applies every pending migration.
func (orm *ORM) Migrate() (int, error) {
	return orm.migrator.Migrate()
}

// withTx returns a shallow copy of the ORM whose statements run on tx.
func (orm *ORM) withTx(tx *sql.Tx) *ORM {
	return &ORM{db: orm.db, q: tx, migrator: orm.migrator}
}

// inTx runs fn in a transaction, committing on nil error.
func (orm *ORM) inTx(ctx context.Context, fn func(tx *ORM) error) error {
	tx, err := orm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // ignored after Commit

	if err := fn(orm.withTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SelectBuilder provides a fluent interface for building SELECT queries.
type SelectBuilder[T any] struct {
	orm       *ORM
	tableName string
	columns   []string
	where     []whereClause
	orderBy   string
	limit     int
	offset    int
}

// whereClause represents a WHERE condition in a SQL query.
type whereClause struct {
	condition string
	args      []any
}

// NewSelectBuilder creates a SELECT query builder for an Entity type.
func NewSelectBuilder[T Entity](orm *ORM) *SelectBuilder[T] {
	var zero T
	return &SelectBuilder[T]{
		orm:       orm,
		tableName: zero.TableName(),
	}
}

// NewSelectBuilderFrom creates a SELECT query builder with an explicit table name.
func NewSelectBuilderFrom[T any](orm *ORM, tableName string) *SelectBuilder[T] {
	return &SelectBuilder[T]{
		orm:       orm,
		tableName: tableName,
	}
}

// Columns restricts the selected columns.
func (sb *SelectBuilder[T]) Columns(columns ...string) *SelectBuilder[T] {
	sb.columns = columns
	return sb
}

// Where adds a WHERE condition to the query.
//
// Multiple WHERE conditions are combined with AND.
// Use SQL placeholders (?) for parameters to prevent SQL injection.
func (sb *SelectBuilder[T]) Where(condition string, args ...any) *SelectBuilder[T] {
	sb.where = append(sb.where, whereClause{
		condition: condition,
		args:      args,
	})
	return sb
}

// OrderBy sets the ORDER BY clause for the query.
func (sb *SelectBuilder[T]) OrderBy(orderBy string) *SelectBuilder[T] {
	sb.orderBy = orderBy
	return sb
}

// Limit sets the maximum number of rows to return.
func (sb *SelectBuilder[T]) Limit(limit int) *SelectBuilder[T] {
	sb.limit = limit
	return sb
}

// Offset sets the number of rows to skip before returning results.
func (sb *SelectBuilder[T]) Offset(offset int) *SelectBuilder[T] {
	sb.offset = offset
	return sb
}

// Execute runs the built query and returns the results.
func (sb *SelectBuilder[T]) Execute(ctx context.Context) ([]T, error) {
	query, args := sb.buildQuery()

	log.Debug().
		Str("query", query).
		Int("args", len(args)).
		Msg("Executing SELECT query")

	rows, err := sb.orm.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	return sb.scanRows(rows)
}

// First executes the query and returns only the first result.
//
// Returns ErrNotFound (wrapping sql.ErrNoRows) if no results are found.
func (sb *SelectBuilder[T]) First(ctx context.Context) (T, error) {
	sb.limit = 1
	results, err := sb.Execute(ctx)

	var zero T
	if err != nil {
		return zero, err
	}

	if len(results) == 0 {
		return zero, ErrNotFound
	}

	return results[0], nil
}

// Count executes a COUNT query and returns the number of matching rows.
func (sb *SelectBuilder[T]) Count(ctx context.Context) (int64, error) {
	query, args := sb.buildCountQuery()

	var count int64
	err := sb.orm.q.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}

	return count, nil
}

func (sb *SelectBuilder[T]) buildQuery() (string, []any) {
	var query strings.Builder

	query.WriteString("SELECT ")
	if len(sb.columns) > 0 {
		query.WriteString(strings.Join(sb.columns, ", "))
	} else {
		query.WriteString("*")
	}

	query.WriteString(" FROM ")
	query.WriteString(sb.table())

	args := sb.writeWhere(&query)

	if sb.orderBy != "" {
		query.WriteString(" ORDER BY ")
		query.WriteString(sb.orderBy)
	}

	if sb.limit > 0 {
		fmt.Fprintf(&query, " LIMIT %d", sb.limit)
	}

	if sb.offset > 0 {
		if sb.limit <= 0 {
			// SQLite requires LIMIT before OFFSET
			query.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&query, " OFFSET %d", sb.offset)
	}

	return query.String(), args
}

func (sb *SelectBuilder[T]) buildCountQuery() (string, []any) {
	var query strings.Builder

	query.WriteString("SELECT COUNT(*) FROM ")
	query.WriteString(sb.table())
	args := sb.writeWhere(&query)

	return query.String(), args
}

func (sb *SelectBuilder[T]) table() string {
	if sb.tableName != "" {
		return sb.tableName
	}
	var zero T
	return strings.ToLower(reflect.TypeOf(zero).Name()) + "s"
}

func (sb *SelectBuilder[T]) writeWhere(query *strings.Builder) []any {
	if len(sb.where) == 0 {
		return nil
	}

	var args []any
	conditions := make([]string, len(sb.where))
	for i, w := range sb.where {
		conditions[i] = "(" + w.condition + ")"
		args = append(args, w.args...)
	}
	query.WriteString(" WHERE ")
	query.WriteString(strings.Join(conditions, " AND "))
	return args
}

// scanRows scans database rows into the target type.
func (sb *SelectBuilder[T]) scanRows(rows *sql.Rows) ([]T, error) {
	var results []T

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	var fields map[string]int
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var item T
		v := reflect.ValueOf(&item).Elem()
		if fields == nil {
			fields = fieldIndex(v.Type())
		}
		if err := populateStruct(v, fields, columns, values); err != nil {
			return nil, fmt.Errorf("failed to populate struct: %w", err)
		}

		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return results, nil
}

// fieldIndex maps column names to struct field indices using db tags.
func fieldIndex(t reflect.Type) map[string]int {
	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		dbTag := field.Tag.Get("db")
		if dbTag == "-" {
			continue
		}
		if dbTag != "" {
			fields[strings.Split(dbTag, ",")[0]] = i
		} else {
			fields[strings.ToLower(field.Name)] = i
		}
	}
	return fields
}

// populateStruct maps database values to struct fields using reflection.
func populateStruct(v reflect.Value, fields map[string]int, columns []string, values []any) error {
	for i, column := range columns {
		fieldIndex, exists := fields[column]
		if !exists {
			continue
		}
		field := v.Field(fieldIndex)
		if !field.CanSet() {
			continue
		}
		if err := setFieldValue(field, values[i]); err != nil {
			return fmt.Errorf("failed to set field %s: %w", column, err)
		}
	}
	return nil
}

// timeLayouts are the textual timestamp formats accepted for time.Time fields.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %q", s)
}

// setFieldValue assigns a database value to a struct field using reflection.
//
// Pointer fields model nullable columns: NULL becomes nil and non-NULL
// values are allocated lazily. NULL on a non-pointer field leaves the
// zero value in place.
func setFieldValue(field reflect.Value, value any) error {
	if field.Kind() == reflect.Ptr {
		if value == nil {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}

		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}

		field.Set(elem)
		return nil
	}

	if value == nil {
		return nil
	}

	switch field.Kind() {

	case reflect.String:
		switch v := value.(type) {
		case string:
			field.SetString(v)
		case []byte:
			field.SetString(string(v))
		default:
			return fmt.Errorf("cannot assign %T to string field", value)
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v := value.(type) {
		case int64:
			field.SetInt(v)
		case float64:
			field.SetInt(int64(v))
		case bool:
			if v {
				field.SetInt(1)
			} else {
				field.SetInt(0)
			}
		default:
			return fmt.Errorf("cannot assign %T to int field", value)
		}

	case reflect.Float32, reflect.Float64:
		switch v := value.(type) {
		case float64:
			field.SetFloat(v)
		case int64:
			field.SetFloat(float64(v))
		default:
			return fmt.Errorf("cannot assign %T to float field", value)
		}

	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
		case int64:
			field.SetBool(v != 0)
		default:
			return fmt.Errorf("cannot assign %T to bool field", value)
		}

	case reflect.Struct:
		if field.Type() != reflect.TypeOf(time.Time{}) {
			return fmt.Errorf("unsupported struct type: %s", field.Type())
		}
		switch v := value.(type) {
		case time.Time:
			field.Set(reflect.ValueOf(v.UTC()))
		case string:
			t, err := parseTime(v)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(t))
		case []byte:
			t, err := parseTime(string(v))
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(t))
		default:
			return fmt.Errorf("cannot assign %T to time.Time field", value)
		}

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}

// Close closes the ORM and its underlying database connection.
func (orm *ORM) Close() error {
	return orm.db.Close()
}
