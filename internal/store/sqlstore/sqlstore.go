// Package sqlstore is the SQLite-backed store. Tables map one-to-one onto
// schema entity types, ids are uuid strings, and the predicate algebra is
// translated to SQL with EXISTS subqueries for relation paths.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mkoval/entcopy/internal/query"
	"github.com/mkoval/entcopy/internal/schema"
	"github.com/mkoval/entcopy/internal/store"
)

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB wraps a SQLite database connection.
type DB struct {
	db     *sql.DB
	schema *schema.Schema
	path   string
	newID  func() string
}

// Open opens a SQLite database at the given path and applies pragmas.
func Open(path string, s *schema.Schema) (*DB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return &DB{db: db, schema: s, path: path, newID: uuid.NewString}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SetIDFunc replaces the id generator. Tests use it for stable ids.
func (d *DB) SetIDFunc(fn func() string) {
	d.newID = fn
}

// EnsureSchema creates one table per entity type if it does not exist yet.
// Foreign-key columns get TEXT affinity and a REFERENCES clause; other
// columns are left untyped and take whatever value type the row carries.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, typeName := range d.schema.TypeNames() {
		ddl := d.tableDDL(d.schema.MustType(typeName))
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", typeName, err)
		}
	}
	return nil
}

func (d *DB) tableDDL(et *schema.EntityType) string {
	// FKField of a ToOne relation lives on this type; of a ToManyOwned
	// relation it lives on the target, declared there by its own relations.
	refs := make(map[string]*schema.Relation)
	for _, rel := range et.Relations() {
		if rel.Kind == schema.ToOne {
			refs[rel.FKField] = rel
		}
	}

	cols := []string{"id TEXT PRIMARY KEY"}
	for _, field := range et.Fields {
		if rel, ok := refs[field]; ok {
			col := fmt.Sprintf("%s TEXT REFERENCES %s(id)", field, d.schema.MustType(rel.Target).TableName())
			if !rel.Nullable {
				col += " NOT NULL"
			}
			cols = append(cols, col)
			continue
		}
		cols = append(cols, field)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", et.TableName(), strings.Join(cols, ",\n\t"))
}

// Select returns the entities of one type matching p, ordered by id.
func (d *DB) Select(ctx context.Context, typeName string, p query.Pred) ([]*schema.Entity, error) {
	return selectEntities(ctx, d.db, d.schema, typeName, p)
}

// BulkCreate inserts one row per map and returns the created entities with
// generated ids.
func (d *DB) BulkCreate(ctx context.Context, typeName string, rows []map[string]any) ([]*schema.Entity, error) {
	return bulkCreate(ctx, d.db, d.schema, d.newID, typeName, rows)
}

// Delete removes the entities of one type matching p.
func (d *DB) Delete(ctx context.Context, typeName string, p query.Pred) error {
	return deleteEntities(ctx, d.db, d.schema, typeName, p)
}

// Atomic runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (d *DB) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, schema: d.schema, newID: d.newID}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the in-transaction view of the store.
type txStore struct {
	tx     *sql.Tx
	schema *schema.Schema
	newID  func() string
}

func (t *txStore) Select(ctx context.Context, typeName string, p query.Pred) ([]*schema.Entity, error) {
	return selectEntities(ctx, t.tx, t.schema, typeName, p)
}

func (t *txStore) BulkCreate(ctx context.Context, typeName string, rows []map[string]any) ([]*schema.Entity, error) {
	return bulkCreate(ctx, t.tx, t.schema, t.newID, typeName, rows)
}

func (t *txStore) Delete(ctx context.Context, typeName string, p query.Pred) error {
	return deleteEntities(ctx, t.tx, t.schema, typeName, p)
}

// Atomic inside a transaction joins the transaction already in progress.
func (t *txStore) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func selectEntities(ctx context.Context, q queryer, s *schema.Schema, typeName string, p query.Pred) ([]*schema.Entity, error) {
	et, err := s.Type(typeName)
	if err != nil {
		return nil, err
	}

	table := et.TableName()
	cols := append([]string{"id"}, et.Fields...)
	qualified := make([]string, len(cols))
	for i, col := range cols {
		qualified[i] = table + "." + col
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(qualified, ", "), table)
	var args []any
	if p != nil {
		b := &sqlBuilder{schema: s}
		where, err := b.pred(typeName, table, p)
		if err != nil {
			return nil, err
		}
		stmt += " WHERE " + where
		args = b.args
	}
	stmt += fmt.Sprintf(" ORDER BY %s.id", table)

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", typeName, err)
	}
	defer rows.Close()

	var out []*schema.Entity
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", typeName, err)
		}

		e := &schema.Entity{Type: typeName, Fields: make(map[string]any, len(et.Fields))}
		id, ok := sqlValue(values[0]).(string)
		if !ok {
			return nil, fmt.Errorf("sqlstore: %s row with non-text id", typeName)
		}
		e.ID = id
		for i, field := range et.Fields {
			e.Fields[field] = sqlValue(values[i+1])
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", typeName, err)
	}
	return out, nil
}

func bulkCreate(ctx context.Context, q queryer, s *schema.Schema, newID func() string, typeName string, rows []map[string]any) ([]*schema.Entity, error) {
	et, err := s.Type(typeName)
	if err != nil {
		return nil, err
	}

	out := make([]*schema.Entity, 0, len(rows))
	for _, row := range rows {
		fields := make([]string, 0, len(row))
		for field := range row {
			if !et.HasField(field) {
				return nil, fmt.Errorf("sqlstore: no field %q on %s", field, typeName)
			}
			fields = append(fields, field)
		}
		sort.Strings(fields)

		cols := append([]string{"id"}, fields...)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		args := make([]any, 0, len(cols))
		id := newID()
		args = append(args, id)
		for _, field := range fields {
			args = append(args, row[field])
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", et.TableName(), strings.Join(cols, ", "), placeholders)
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return nil, fmt.Errorf("failed to insert %s: %w", typeName, err)
		}

		copied := make(map[string]any, len(row))
		for field, value := range row {
			copied[field] = value
		}
		out = append(out, &schema.Entity{Type: typeName, ID: id, Fields: copied})
	}
	return out, nil
}

func deleteEntities(ctx context.Context, q queryer, s *schema.Schema, typeName string, p query.Pred) error {
	et, err := s.Type(typeName)
	if err != nil {
		return err
	}

	table := et.TableName()
	stmt := "DELETE FROM " + table
	var args []any
	if p != nil {
		b := &sqlBuilder{schema: s}
		where, err := b.pred(typeName, table, p)
		if err != nil {
			return err
		}
		stmt += " WHERE " + where
		args = b.args
	}

	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete %s: %w", typeName, err)
	}
	return nil
}

// sqlValue normalizes driver values to the forms the engine compares
// against: []byte becomes string, everything else passes through.
func sqlValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
