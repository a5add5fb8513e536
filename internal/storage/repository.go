package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Entity interface that all models must implement
type Entity interface {
	TableName() string
}

// Repository provides generic CRUD operations for any entity type.
type Repository[T Entity] struct {
	orm       *ORM
	tableName string
}

// NewRepository creates a new repository for type T.
func NewRepository[T Entity](orm *ORM) *Repository[T] {
	var zero T
	return &Repository[T]{
		orm:       orm,
		tableName: zero.TableName(),
	}
}

// column describes one tagged struct field.
type column struct {
	name     string
	index    int
	primary  bool
	auto     bool
	readonly bool
}

func columnsOf(t reflect.Type) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		flags := parts[1:]
		cols = append(cols, column{
			name:     parts[0],
			index:    i,
			primary:  slices.Contains(flags, "primary"),
			auto:     slices.Contains(flags, "auto_increment"),
			readonly: slices.Contains(flags, "readonly"),
		})
	}
	return cols
}

// Create inserts a new entity and sets its ID.
//
// Zero CreatedAt and UpdatedAt fields are stamped with the current UTC time.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (int64, error) {
	v := reflect.ValueOf(entity).Elem()
	now := time.Now().UTC()

	var names, placeholders []string
	var values []any

	for _, col := range columnsOf(v.Type()) {
		if col.auto || col.readonly {
			continue
		}
		field := v.Field(col.index)
		if (col.name == "created_at" || col.name == "updated_at") && field.IsZero() {
			field.Set(reflect.ValueOf(now))
		}
		names = append(names, col.name)
		placeholders = append(placeholders, "?")
		values = append(values, field.Interface())
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		r.tableName,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)

	result, err := r.orm.q.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", r.tableName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get %s ID: %w", r.tableName, err)
	}

	if idField := v.FieldByName("ID"); idField.IsValid() && idField.CanSet() {
		idField.SetInt(id)
	}

	log.Debug().
		Int64("id", id).
		Str("table", r.tableName).
		Msg("Entity created")

	return id, nil
}

// GetByID retrieves an entity by its ID.
func (r *Repository[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	entity, err := NewSelectBuilderFrom[T](r.orm, r.tableName).
		Where("id = ?", id).
		First(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s %d: %w", r.tableName, id, ErrNotFound)
		}
		return nil, err
	}
	return &entity, nil
}

// List returns one page of entities ordered by id.
func (r *Repository[T]) List(ctx context.Context, limit, offset int) ([]T, error) {
	return NewSelectBuilderFrom[T](r.orm, r.tableName).
		OrderBy("id").
		Limit(limit).
		Offset(offset).
		Execute(ctx)
}

// Page returns one page of entities matching the condition, ordered by
// id. An empty condition matches every row.
func (r *Repository[T]) Page(ctx context.Context, limit, offset int, condition string, args ...any) ([]T, error) {
	builder := NewSelectBuilderFrom[T](r.orm, r.tableName)
	if condition != "" {
		builder = builder.Where(condition, args...)
	}
	return builder.OrderBy("id").Limit(limit).Offset(offset).Execute(ctx)
}

// Update writes the entity's columns by ID.
//
// When columns is empty every writable column is updated; otherwise only
// the named ones (updated_at is always refreshed). Readonly columns are
// never written here. Returns ErrNotFound when no row matches.
func (r *Repository[T]) Update(ctx context.Context, entity *T, columns ...string) error {
	v := reflect.ValueOf(entity).Elem()

	var setParts []string
	var values []any
	var id int64

	for _, col := range columnsOf(v.Type()) {
		field := v.Field(col.index)
		switch {
		case col.primary:
			id = field.Int()
			continue
		case col.readonly, col.name == "created_at":
			continue
		case col.name == "updated_at":
			field.Set(reflect.ValueOf(time.Now().UTC()))
		case len(columns) > 0 && !slices.Contains(columns, col.name):
			continue
		}

		setParts = append(setParts, col.name+" = ?")
		values = append(values, field.Interface())
	}

	values = append(values, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = ?",
		r.tableName,
		strings.Join(setParts, ", "),
	)

	result, err := r.orm.q.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", r.tableName, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", r.tableName, id, ErrNotFound)
	}

	return nil
}

// Delete deletes an entity by ID.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.tableName)
	result, err := r.orm.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.tableName, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %d: %w", r.tableName, id, ErrNotFound)
	}
	return nil
}

// Where returns entities matching the condition, ordered by id.
func (r *Repository[T]) Where(ctx context.Context, condition string, args ...any) ([]T, error) {
	return NewSelectBuilderFrom[T](r.orm, r.tableName).
		Where(condition, args...).
		OrderBy("id").
		Execute(ctx)
}

// First returns the first entity matching the condition.
func (r *Repository[T]) First(ctx context.Context, condition string, args ...any) (*T, error) {
	entity, err := NewSelectBuilderFrom[T](r.orm, r.tableName).
		Where(condition, args...).
		OrderBy("id").
		First(ctx)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Count returns the number of entities matching the condition.
func (r *Repository[T]) Count(ctx context.Context, condition string, args ...any) (int64, error) {
	builder := NewSelectBuilderFrom[T](r.orm, r.tableName)
	if condition != "" {
		builder = builder.Where(condition, args...)
	}
	return builder.Count(ctx)
}

// Repositories provides access to all repository instances.
type Repositories struct {
	Monitors          *Repository[Monitor]
	MonitorFeeds      *Repository[MonitorFeed]
	Drives            *Repository[Drive]
	DriveUsage        *Repository[DriveUsage]
	Databases         *Repository[Database]
	DatabaseUsage     *Repository[DatabaseUsage]
	DatabaseFiles     *Repository[DatabaseFile]
	DatabaseFileUsage *Repository[DatabaseFileUsage]
	Notifications     *Repository[Notification]
	NotifyLinks       *Repository[NotifyLink]
	MonitorLogs       *Repository[MonitorLog]
}

// NewRepositories creates and initializes all repository instances.
func NewRepositories(orm *ORM) *Repositories {
	return &Repositories{
		Monitors:          NewRepository[Monitor](orm),
		MonitorFeeds:      NewRepository[MonitorFeed](orm),
		Drives:            NewRepository[Drive](orm),
		DriveUsage:        NewRepository[DriveUsage](orm),
		Databases:         NewRepository[Database](orm),
		DatabaseUsage:     NewRepository[DatabaseUsage](orm),
		DatabaseFiles:     NewRepository[DatabaseFile](orm),
		DatabaseFileUsage: NewRepository[DatabaseFileUsage](orm),
		Notifications:     NewRepository[Notification](orm),
		NotifyLinks:       NewRepository[NotifyLink](orm),
		MonitorLogs:       NewRepository[MonitorLog](orm),
	}
}
