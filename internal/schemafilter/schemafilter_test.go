package schemafilter

import (
	"context"
	"testing"

	"tidb-odata/internal/introspection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partnerTables() []introspection.Table {
	return []introspection.Table{
		{
			Name: "organizations",
			Columns: []introspection.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "name"},
				{Name: "tax_number"},
			},
		},
		{
			Name: "business_partner_roles",
			Columns: []introspection.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "organization_id"},
				{Name: "role_code"},
			},
			ForeignKeys: []introspection.ForeignKey{
				{
					ColumnName:       "organization_id",
					ReferencedTable:  "organizations",
					ReferencedColumn: "id",
					ConstraintName:   "fk_roles_organization",
					OrdinalPosition:  1,
				},
			},
		},
		{
			Name:    "audit_intern",
			Columns: []introspection.Column{{Name: "id", IsPrimaryKey: true}, {Name: "payload"}},
		},
	}
}

func TestApply_AllowsAllByDefault(t *testing.T) {
	schema := &introspection.Schema{Tables: partnerTables()}

	Apply(context.Background(), schema, Config{}, nil)

	assert.Len(t, schema.Tables, 3)
	roles, ok := schema.Table("business_partner_roles")
	require.True(t, ok)
	require.Len(t, roles.Relationships, 1)
	assert.True(t, roles.Relationships[0].IsManyToOne)
	assert.Equal(t, "organizations", roles.Relationships[0].RemoteTable)
}

func TestApply_TableAndColumnFilters(t *testing.T) {
	schema := &introspection.Schema{Tables: partnerTables()}

	Apply(context.Background(), schema, Config{
		AllowTables:  []string{"*"},
		DenyTables:   []string{"*_intern"},
		AllowColumns: map[string][]string{"*": {"*"}},
		DenyColumns:  map[string][]string{"org*": {"TAX_*"}},
	}, nil)

	require.Len(t, schema.Tables, 2)
	orgs, ok := schema.Table("organizations")
	require.True(t, ok)
	names := make([]string, 0, len(orgs.Columns))
	for _, col := range orgs.Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "name"}, names)
}

func TestApply_DropsRelationshipsForHiddenColumns(t *testing.T) {
	schema := &introspection.Schema{Tables: partnerTables()}

	Apply(context.Background(), schema, Config{
		DenyColumns: map[string][]string{"business_partner_roles": {"organization_id"}},
	}, nil)

	roles, ok := schema.Table("business_partner_roles")
	require.True(t, ok)
	assert.Empty(t, roles.ForeignKeys)
	assert.Empty(t, roles.Relationships)

	orgs, ok := schema.Table("organizations")
	require.True(t, ok)
	assert.Empty(t, orgs.Relationships)
}

func TestApply_DropsRelationshipsToHiddenTables(t *testing.T) {
	schema := &introspection.Schema{Tables: partnerTables()}

	Apply(context.Background(), schema, Config{DenyTables: []string{"organizations"}}, nil)

	roles, ok := schema.Table("business_partner_roles")
	require.True(t, ok)
	assert.Empty(t, roles.ForeignKeys)
	assert.Empty(t, roles.Relationships)
}

func TestApply_DropsTablesWithoutVisibleColumns(t *testing.T) {
	schema := &introspection.Schema{Tables: partnerTables()}

	Apply(context.Background(), schema, Config{
		AllowColumns: map[string][]string{"audit_intern": {"nothing"}, "organizations": {"*"}, "business_partner_roles": {"*"}},
	}, nil)

	_, ok := schema.Table("audit_intern")
	assert.False(t, ok)
	assert.Len(t, schema.Tables, 2)
}

func TestApply_ScanViews(t *testing.T) {
	tables := func() []introspection.Table {
		return []introspection.Table{
			{Name: "organizations", Columns: []introspection.Column{{Name: "id"}}},
			{Name: "active_organizations", IsView: true, Columns: []introspection.Column{{Name: "id"}}},
		}
	}

	schema := &introspection.Schema{Tables: tables()}
	Apply(context.Background(), schema, Config{}, nil)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "organizations", schema.Tables[0].Name)

	schema = &introspection.Schema{Tables: tables()}
	Apply(context.Background(), schema, Config{ScanViews: true, AllowTables: []string{"*"}}, nil)
	assert.Len(t, schema.Tables, 2)
}
