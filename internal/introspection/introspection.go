// Package introspection reads a database catalog from information_schema and
// derives the navigation relationships an OData descriptor is built from.
// The catalog is read with three schema-wide statements regardless of the
// number of tables.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-odata/internal/naming"
	"tidb-odata/internal/sqltype"
)

// Column represents a database column
type Column struct {
	Name         string
	DataType     string
	ColumnType   string
	IsNullable   bool
	IsPrimaryKey bool
	Comment      string
	// OverrideType is an explicit Edm type resolved from configured type mappings.
	OverrideType    sqltype.EdmType
	HasOverrideType bool
}

// ForeignKey represents a foreign key constraint on a column
type ForeignKey struct {
	ColumnName       string // e.g., "business_partner_id"
	ReferencedTable  string // e.g., "business_partners"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "fk_roles_partner"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Relationship represents either direction of a FK relationship.
// LocalColumns/RemoteColumns are ordered positional mappings between local and remote keys.
type Relationship struct {
	IsManyToOne    bool
	IsOneToMany    bool
	LocalColumns   []string // For many-to-one: FK columns; for one-to-many: referenced key columns on local table
	RemoteTable    string
	RemoteColumns  []string // For many-to-one: referenced columns; for one-to-many: FK columns in remote table
	NavigationName string   // e.g., "BusinessPartner" or "Roles"
	ConstraintName string
}

// Table represents a database table
type Table struct {
	Name    string
	IsView  bool
	Comment string
	Columns []Column
	// PrimaryKey lists the key columns in constraint order.
	PrimaryKey    []string
	ForeignKeys   []ForeignKey
	Relationships []Relationship
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Schema represents the introspected database schema
type Schema struct {
	Tables []Table
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	tablesQuery = `
		SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`

	columnsQuery = `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_COMMENT, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	keyUsageQuery = `
		SELECT TABLE_NAME, COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION,
			REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND (CONSTRAINT_NAME = 'PRIMARY' OR REFERENCED_TABLE_NAME IS NOT NULL)
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`
)

// IntrospectDatabaseContext reads the catalog of databaseName using the
// default relationship naming.
func IntrospectDatabaseContext(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	return IntrospectDatabaseWithNamer(ctx, db, databaseName, naming.Default())
}

// IntrospectDatabaseWithNamer reads the catalog of databaseName and names
// relationships with namer.
func IntrospectDatabaseWithNamer(ctx context.Context, db Queryer, databaseName string, namer *naming.Namer) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	schema, err := readCatalog(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("introspection.tables", len(schema.Tables)))

	buildRelationships(ctx, schema, namer)
	return schema, nil
}

// RebuildRelationships clears and rebuilds relationship metadata for a schema.
func RebuildRelationships(ctx context.Context, schema *Schema, namer *naming.Namer) {
	if schema == nil {
		return
	}
	for i := range schema.Tables {
		schema.Tables[i].Relationships = nil
	}
	buildRelationships(ctx, schema, namer)
}

type columnRow struct {
	table string
	col   Column
}

type keyUsageRow struct {
	table      string
	column     string
	constraint string
	position   int
	refTable   sql.NullString
	refColumn  sql.NullString
}

func readCatalog(ctx context.Context, db Queryer, databaseName string) (*Schema, error) {
	tables, err := collect(ctx, db, "tables", tablesQuery, databaseName, func(rows *sql.Rows) (Table, error) {
		var t Table
		var tableType string
		var comment sql.NullString
		if err := rows.Scan(&t.Name, &tableType, &comment); err != nil {
			return t, err
		}
		t.IsView = strings.EqualFold(tableType, "VIEW")
		t.Comment = strings.TrimSpace(comment.String)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	columns, err := collect(ctx, db, "columns", columnsQuery, databaseName, func(rows *sql.Rows) (columnRow, error) {
		var r columnRow
		var comment sql.NullString
		var nullable string
		if err := rows.Scan(&r.table, &r.col.Name, &r.col.DataType, &r.col.ColumnType, &comment, &nullable); err != nil {
			return r, err
		}
		r.col.Comment = strings.TrimSpace(comment.String)
		r.col.IsNullable = strings.EqualFold(nullable, "YES")
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	keys, err := collect(ctx, db, "key_usage", keyUsageQuery, databaseName, func(rows *sql.Rows) (keyUsageRow, error) {
		var r keyUsageRow
		err := rows.Scan(&r.table, &r.column, &r.constraint, &r.position, &r.refTable, &r.refColumn)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key usage: %w", err)
	}

	schema := &Schema{Tables: tables}
	if schema.Tables == nil {
		schema.Tables = []Table{}
	}
	for _, r := range columns {
		if t, ok := schema.Table(r.table); ok {
			t.Columns = append(t.Columns, r.col)
		}
	}
	for _, r := range keys {
		t, ok := schema.Table(r.table)
		if !ok || t.IsView {
			continue
		}
		if r.refTable.Valid {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				ColumnName:       r.column,
				ReferencedTable:  r.refTable.String,
				ReferencedColumn: r.refColumn.String,
				ConstraintName:   r.constraint,
				OrdinalPosition:  r.position,
			})
			continue
		}
		t.PrimaryKey = append(t.PrimaryKey, r.column)
	}
	for i := range schema.Tables {
		markPrimaryKey(&schema.Tables[i])
	}
	return schema, nil
}

func markPrimaryKey(t *Table) {
	for i := range t.Columns {
		t.Columns[i].IsPrimaryKey = slices.Contains(t.PrimaryKey, t.Columns[i].Name)
	}
}

// collect runs one catalog statement in its own span and scans every row.
func collect[T any](ctx context.Context, db Queryer, what, query, databaseName string, scan func(*sql.Rows) (T, error)) (out []T, err error) {
	ctx, span := startSpan(ctx, "introspection.get_"+what,
		attribute.String("db.name", databaseName),
	)
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("introspection.rows", len(out)))
	return out, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("tidb-odata/introspection").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
