package planner_test

import (
	"testing"

	"tidb-odata/internal/planner"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/testutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columnEquals(column string, value interface{}) planner.Condition {
	return func(scope planner.Scope) (sq.Sqlizer, error) {
		return sq.Expr("`"+scope.Alias+"`.`"+column+"` = ?", value), nil
	}
}

func TestExistsBuilderNestsOnePerHop(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	path, err := querypath.ResolveAttribute(org, "Roles/Organization/Name1")
	require.NoError(t, err)

	cond, err := planner.NewExistsBuilder().Build(path, "t0", columnEquals("name1", "First Org."))
	require.NoError(t, err)

	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM `business_partner_roles` AS `__business_partner_roles_1` "+
			"WHERE `__business_partner_roles_1`.`business_partner_id` = `t0`.`id` "+
			"AND EXISTS (SELECT 1 FROM `organizations` AS `__organizations_2` "+
			"WHERE `__organizations_2`.`id` = `__business_partner_roles_1`.`business_partner_id` "+
			"AND `__organizations_2`.`name1` = ?))",
		sql)
	assert.Equal(t, []interface{}{"First Org."}, args)
}

func TestExistsBuilderFoldsComplexSegments(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	path, err := querypath.ResolveAttribute(org, "Address/AdministrativeDivision/Population")
	require.NoError(t, err)

	cond, err := planner.NewExistsBuilder().Build(path, "t0", columnEquals("population", int64(10)))
	require.NoError(t, err)

	sql, _, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM `administrative_divisions` AS `__administrative_divisions_1` "+
			"WHERE `__administrative_divisions_1`.`division_code` = `t0`.`region` "+
			"AND `__administrative_divisions_1`.`population` = ?)",
		sql)
}

func TestExistsBuilderAll(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	roles, err := querypath.ResolveAssociation(org, "Roles")
	require.NoError(t, err)

	b := planner.NewExistsBuilder()
	cond, err := b.BuildAll(roles, "t0", columnEquals("role_category", "A"))
	require.NoError(t, err)
	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"NOT EXISTS (SELECT 1 FROM `business_partner_roles` AS `__business_partner_roles_1` "+
			"WHERE `__business_partner_roles_1`.`business_partner_id` = `t0`.`id` "+
			"AND NOT (`__business_partner_roles_1`.`role_category` = ?))",
		sql)
	assert.Equal(t, []interface{}{"A"}, args)

	_, err = b.BuildAll(roles, "t0", nil)
	assert.Error(t, err)
}

func TestExistsBuilderWithoutCondition(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	roles, err := querypath.ResolveAssociation(org, "Roles")
	require.NoError(t, err)

	cond, err := planner.NewExistsBuilder().Build(roles, "t0", nil)
	require.NoError(t, err)
	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM `business_partner_roles` AS `__business_partner_roles_1` "+
			"WHERE `__business_partner_roles_1`.`business_partner_id` = `t0`.`id`)",
		sql)
	assert.Empty(t, args)
}

func TestExistsBuilderCount(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	roles, err := querypath.ResolveAssociation(org, "Roles")
	require.NoError(t, err)

	cond, err := planner.NewExistsBuilder().Count(roles, "t0", nil)
	require.NoError(t, err)
	sql, _, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"(SELECT COUNT(*) FROM `business_partner_roles` AS `__business_partner_roles_1` "+
			"WHERE `__business_partner_roles_1`.`business_partner_id` = `t0`.`id`)",
		sql)
}

func TestExistsBuilderRequiresNavigation(t *testing.T) {
	schema := testutil.Schema(t)
	org := testutil.EntityType(t, schema, "Organization")
	path, err := querypath.ResolveAttribute(org, "Address/CityName")
	require.NoError(t, err)

	_, err = planner.NewExistsBuilder().Build(path, "t0", nil)
	assert.ErrorIs(t, err, planner.ErrNoNavigation)
}
