package planner_test

import (
	"testing"

	"tidb-odata/internal/planner"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attributes(t *testing.T, entityName string, raw ...string) []*querypath.AttributePath {
	t.Helper()
	schema := testutil.Schema(t)
	entity := testutil.EntityType(t, schema, entityName)
	paths := make([]*querypath.AttributePath, len(raw))
	for i, r := range raw {
		p, err := querypath.ResolveAttribute(entity, r)
		require.NoError(t, err, r)
		paths[i] = p
	}
	return paths
}

func TestJoinPlanSharesPrefixes(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	paths := attributes(t, "Organization", "Roles/Organization/Name1", "Roles/RoleCategory")

	jb := planner.NewJoinPlanBuilder(org)
	require.NoError(t, jb.AddAttributes(planner.RootKey, paths))

	plan := jb.Plan()
	require.Equal(t, 3, plan.Len())
	joins := plan.Joins()
	assert.Equal(t, "Roles", joins[0].Key)
	assert.Equal(t, "t1", joins[0].Alias)
	assert.Equal(t, querypath.JoinLeft, joins[0].JoinType)
	assert.Equal(t, "`t0`.`id` = `t1`.`business_partner_id`", joins[0].On())
	assert.Equal(t, "Roles/Organization", joins[1].Key)
	assert.Equal(t, "`t1`.`business_partner_id` = `t2`.`id`", joins[1].On())
	assert.Equal(t, "`organizations` AS `t2`", joins[1].From())

	// Adding the same paths again is a no-op.
	require.NoError(t, jb.AddAttributes(planner.RootKey, paths))
	require.NoError(t, jb.AddAttributes(planner.RootKey, paths[:1]))
	assert.Equal(t, 3, jb.Plan().Len())
}

func TestJoinPlanDescriptionAndEmbeddedNavigation(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	paths := attributes(t, "Organization", "Address/CountryName", "Address/AdministrativeDivision/Population")

	jb := planner.NewJoinPlanBuilder(org)
	require.NoError(t, jb.AddAttributes(planner.RootKey, paths))

	desc, ok := jb.Plan().Source("Address/CountryName")
	require.True(t, ok)
	assert.True(t, desc.Description)
	assert.Equal(t, "country_descriptions", desc.Table)
	assert.Equal(t, "`t0`.`address_country` = `"+desc.Alias+"`.`iso_code`", desc.On())

	div, ok := jb.Plan().Source("Address/AdministrativeDivision")
	require.True(t, ok)
	assert.Equal(t, "`t0`.`region` = `"+div.Alias+"`.`division_code`", div.On())

	src, err := jb.AttributeSource(planner.RootKey, paths[0])
	require.NoError(t, err)
	assert.Same(t, desc, src)
	src, err = jb.AttributeSource(planner.RootKey, paths[1])
	require.NoError(t, err)
	assert.Same(t, div, src)
}

func TestJoinPlanInnerUpgrade(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	roles, err := querypath.ResolveAssociation(org, "Roles")
	require.NoError(t, err)

	jb := planner.NewJoinPlanBuilder(org)
	require.NoError(t, jb.AddAssociations(planner.RootKey, []*querypath.AssociationPath{roles}))
	src, ok := jb.Plan().Source("Roles")
	require.True(t, ok)
	assert.Equal(t, querypath.JoinLeft, src.JoinType)

	inner, err := jb.AddInner(planner.RootKey, roles)
	require.NoError(t, err)
	assert.Same(t, src, inner)
	assert.Equal(t, querypath.JoinInner, src.JoinType)
	assert.Equal(t, 2, jb.Plan().Len())
}

func TestJoinPlanOrderByRejectsToMany(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")

	jb := planner.NewJoinPlanBuilder(org)
	err := jb.AddOrderBy(planner.RootKey, attributes(t, "Organization", "Roles/RoleCategory"))
	require.Error(t, err)
	assert.ErrorIs(t, err, queryerr.ErrJoinPlan)

	err = jb.AddOrderBy(planner.RootKey, attributes(t, "Organization", "Address"))
	assert.ErrorIs(t, err, queryerr.ErrJoinPlan)

	role := testutil.EntityType(t, schema, "BusinessPartnerRole")
	jb = planner.NewJoinPlanBuilder(role)
	require.NoError(t, jb.AddOrderBy(planner.RootKey, attributes(t, "BusinessPartnerRole", "Organization/Name1")))
	assert.Equal(t, 2, jb.Plan().Len())
}

func TestJoinPlanCompositeJoinColumns(t *testing.T) {
	schema := testutil.Schema(t)
	div := testutil.EntityType(t, schema, "AdministrativeDivision")

	jb := planner.NewJoinPlanBuilder(div)
	require.NoError(t, jb.AddAttributes(planner.RootKey, attributes(t, "AdministrativeDivision", "Parent/Population")))
	parent, ok := jb.Plan().Source("Parent")
	require.True(t, ok)
	assert.Equal(t,
		"`t0`.`code_publisher` = `t1`.`code_publisher` AND `t0`.`parent_code_id` = `t1`.`code_id` AND `t0`.`parent_division_code` = `t1`.`division_code`",
		parent.On())
}
