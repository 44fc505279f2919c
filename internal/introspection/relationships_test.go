package introspection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/naming"
)

func partnerSchema() *Schema {
	return &Schema{
		Tables: []Table{
			{
				Name: "business_partners",
				Columns: []Column{
					{Name: "id", DataType: "varchar", IsPrimaryKey: true},
					{Name: "name1", DataType: "varchar"},
				},
			},
			{
				Name: "business_partner_roles",
				Columns: []Column{
					{Name: "business_partner_id", DataType: "varchar", IsPrimaryKey: true},
					{Name: "role_category", DataType: "varchar", IsPrimaryKey: true},
				},
				ForeignKeys: []ForeignKey{
					{ConstraintName: "fk_roles_partner", ColumnName: "business_partner_id", ReferencedTable: "business_partners", ReferencedColumn: "id", OrdinalPosition: 1},
				},
			},
			{
				Name:   "partner_view",
				IsView: true,
				Columns: []Column{
					{Name: "id", DataType: "varchar"},
				},
			},
		},
	}
}

func TestRebuildRelationships(t *testing.T) {
	schema := partnerSchema()
	RebuildRelationships(context.Background(), schema, naming.Default())

	partners, ok := schema.Table("business_partners")
	require.True(t, ok)
	require.Len(t, partners.Relationships, 1)
	toMany := partners.Relationships[0]
	assert.True(t, toMany.IsOneToMany)
	assert.Equal(t, "business_partner_roles", toMany.RemoteTable)
	assert.Equal(t, []string{"id"}, toMany.LocalColumns)
	assert.Equal(t, []string{"business_partner_id"}, toMany.RemoteColumns)
	assert.Equal(t, "BusinessPartnerRoles", toMany.NavigationName)

	roles, ok := schema.Table("business_partner_roles")
	require.True(t, ok)
	require.Len(t, roles.Relationships, 1)
	toOne := roles.Relationships[0]
	assert.True(t, toOne.IsManyToOne)
	assert.Equal(t, "BusinessPartner", toOne.NavigationName)
	assert.Equal(t, []string{"business_partner_id"}, toOne.LocalColumns)
	assert.Equal(t, []string{"id"}, toOne.RemoteColumns)

	view, ok := schema.Table("partner_view")
	require.True(t, ok)
	assert.Empty(t, view.Relationships)
}

func TestRebuildRelationshipsIsRepeatable(t *testing.T) {
	schema := partnerSchema()
	RebuildRelationships(context.Background(), schema, nil)
	RebuildRelationships(context.Background(), schema, nil)

	partners, _ := schema.Table("business_partners")
	assert.Len(t, partners.Relationships, 1)
}

func TestRebuildRelationshipsDisambiguatesMultipleForeignKeys(t *testing.T) {
	schema := &Schema{
		Tables: []Table{
			{Name: "users", Columns: []Column{{Name: "id", IsPrimaryKey: true}}},
			{
				Name:    "posts",
				Columns: []Column{{Name: "id", IsPrimaryKey: true}, {Name: "author_id"}, {Name: "editor_id"}},
				ForeignKeys: []ForeignKey{
					{ConstraintName: "fk_author", ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id"},
					{ConstraintName: "fk_editor", ColumnName: "editor_id", ReferencedTable: "users", ReferencedColumn: "id"},
				},
			},
		},
	}
	RebuildRelationships(context.Background(), schema, naming.Default())

	users, _ := schema.Table("users")
	var names []string
	for _, rel := range users.Relationships {
		names = append(names, rel.NavigationName)
	}
	assert.ElementsMatch(t, []string{"AuthorPosts", "EditorPosts"}, names)
}
