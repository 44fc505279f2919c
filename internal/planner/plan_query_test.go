package planner_test

import (
	"testing"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, limits planner.Limits, path, rawQuery string) (*planner.Query, error) {
	t.Helper()
	req, err := odata.ParseRequest(path, rawQuery)
	require.NoError(t, err)
	return planner.NewCompiler(testutil.Schema(t), limits).Compile(req)
}

func mustCompile(t *testing.T, path, rawQuery string) *planner.Query {
	t.Helper()
	q, err := compile(t, planner.DefaultLimits(), path, rawQuery)
	require.NoError(t, err)
	return q
}

func TestCompileRootStatements(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		kind  planner.ResultKind
		sql   string
		args  []interface{}
	}{
		{
			name:  "select with top",
			path:  "/Organizations",
			query: "$select=Name1&$top=2",
			kind:  planner.ResultCollection,
			sql: "SELECT `t0`.`name1` AS `Name1`, `t0`.`id` AS `ID`, `t0`.`etag` AS `$etag` " +
				"FROM `organizations` AS `t0` ORDER BY `t0`.`id` ASC LIMIT 2",
		},
		{
			name: "navigation from a keyed entity",
			path: "/Organizations('1')/Roles",
			kind: planner.ResultCollection,
			sql: "SELECT `t1`.`business_partner_id` AS `BusinessPartnerID`, `t1`.`role_category` AS `RoleCategory` " +
				"FROM `organizations` AS `t0` JOIN `business_partner_roles` AS `t1` ON `t0`.`id` = `t1`.`business_partner_id` " +
				"WHERE `t0`.`id` = ? ORDER BY `t1`.`business_partner_id` ASC, `t1`.`role_category` ASC LIMIT 100",
			args: []interface{}{"1"},
		},
		{
			name: "composite key",
			path: "/BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='A')",
			kind: planner.ResultEntity,
			sql: "SELECT `t0`.`business_partner_id` AS `BusinessPartnerID`, `t0`.`role_category` AS `RoleCategory` " +
				"FROM `business_partner_roles` AS `t0` " +
				"WHERE `t0`.`business_partner_id` = ? AND `t0`.`role_category` = ? " +
				"ORDER BY `t0`.`business_partner_id` ASC, `t0`.`role_category` ASC LIMIT 100",
			args: []interface{}{"1", "A"},
		},
		{
			name:  "count resource",
			path:  "/Organizations/$count",
			query: "$filter=Type eq '2'",
			kind:  planner.ResultCount,
			sql:   "SELECT COUNT(*) FROM `organizations` AS `t0` WHERE `t0`.`type` = ?",
			args:  []interface{}{"2"},
		},
		{
			name:  "order by navigation count",
			path:  "/Organizations",
			query: "$select=ID&$orderby=Roles/$count desc&$top=5&$skip=5",
			kind:  planner.ResultCollection,
			sql: "SELECT `t0`.`id` AS `ID`, `t0`.`etag` AS `$etag` FROM `organizations` AS `t0` " +
				"ORDER BY (SELECT COUNT(*) FROM `business_partner_roles` AS `__business_partner_roles_1` " +
				"WHERE `__business_partner_roles_1`.`business_partner_id` = `t0`.`id`) DESC, `t0`.`id` ASC " +
				"LIMIT 5 OFFSET 5",
		},
		{
			name:  "order by to-one navigation",
			path:  "/BusinessPartnerRoles",
			query: "$orderby=Organization/Name1",
			kind:  planner.ResultCollection,
			sql: "SELECT `t0`.`business_partner_id` AS `BusinessPartnerID`, `t0`.`role_category` AS `RoleCategory` " +
				"FROM `business_partner_roles` AS `t0` LEFT JOIN `organizations` AS `t1` ON `t0`.`business_partner_id` = `t1`.`id` " +
				"ORDER BY `t1`.`name1` ASC, `t0`.`business_partner_id` ASC, `t0`.`role_category` ASC LIMIT 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mustCompile(t, tt.path, tt.query)
			assert.Equal(t, tt.kind, q.Kind)
			stmt, err := q.Statement()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, stmt.SQL)
			assert.Equal(t, len(tt.args), len(stmt.Args))
			if len(tt.args) > 0 {
				assert.Equal(t, tt.args, stmt.Args)
			}
		})
	}
}

func TestCompileSkipWithoutTop(t *testing.T) {
	q, err := compile(t, planner.Limits{}, "/Organizations", "$select=ID&$skip=1")
	require.NoError(t, err)
	stmt, err := q.Statement()
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "LIMIT 9223372036854775807 OFFSET 1")
}

func TestCompileTopIsCapped(t *testing.T) {
	q, err := compile(t, planner.Limits{MaxTop: 10}, "/Organizations", "$select=ID&$top=500")
	require.NoError(t, err)
	stmt, err := q.Statement()
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "LIMIT 10")
}

func TestCompileCountOption(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$count=true&$filter=Country eq 'DEU'&$top=1")
	assert.True(t, q.Count)
	stmt, err := q.CountStatement()
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM `organizations` AS `t0` WHERE `t0`.`country` = ?", stmt.SQL)
	assert.Equal(t, []interface{}{"DEU"}, stmt.Args)
}

func TestCompileExpand(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$select=Name1&$expand=Roles")

	stmt, err := q.Statement()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `t0`.`name1` AS `Name1`, `t0`.`id` AS `ID`, `t0`.`etag` AS `$etag`, `t0`.`id` AS `$link/id` "+
			"FROM `organizations` AS `t0` ORDER BY `t0`.`id` ASC LIMIT 100",
		stmt.SQL)

	require.Len(t, q.Root.Children, 1)
	roles := q.Root.Children[0]
	assert.Equal(t, "Roles", roles.Name)
	assert.Equal(t, "Roles", roles.Path)
	assert.Equal(t, metamodel.ToMany, roles.Multiplicity)
	assert.Equal(t, []string{"$link/id"}, roles.Links)
	assert.Equal(t, []string{"$parent/0"}, roles.ParentAliases())
	assert.Equal(t, 1, q.Depth())

	stmts, err := roles.Statements([]planner.ParentTuple{{Values: []interface{}{"1"}}, {Values: []interface{}{"2"}}})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"SELECT `t0`.`business_partner_id` AS `BusinessPartnerID`, `t0`.`role_category` AS `RoleCategory`, "+
			"`t0`.`business_partner_id` AS `$parent/0` FROM `business_partner_roles` AS `t0` "+
			"WHERE `t0`.`business_partner_id` IN (?,?) "+
			"ORDER BY `t0`.`business_partner_id`, `t0`.`business_partner_id` ASC, `t0`.`role_category` ASC",
		stmts[0].SQL)
	assert.Equal(t, []interface{}{"1", "2"}, stmts[0].Args)
}

func TestCompileExpandWindow(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$expand=Roles($top=1;$skip=1;$orderby=RoleCategory desc)")
	require.Len(t, q.Root.Children, 1)

	stmt, err := q.Root.Children[0].Template()
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL,
		"ROW_NUMBER() OVER (PARTITION BY `t0`.`business_partner_id` ORDER BY `t0`.`role_category` DESC, `t0`.`business_partner_id` ASC) AS __rn")
	assert.Contains(t, stmt.SQL, "SELECT `BusinessPartnerID`, `RoleCategory`, `$parent/0` FROM (SELECT ")
	assert.Contains(t, stmt.SQL, ") AS __batch WHERE __rn > ? AND __rn <= ? ORDER BY `$parent/0`, __rn")
	assert.Equal(t, []interface{}{nil, 1, 2}, stmt.Args)
}

func TestCompileExpandCounts(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$expand=Roles($count=true;$filter=RoleCategory ne 'C')")
	roles := q.Root.Children[0]
	assert.True(t, roles.Count)

	stmts, err := roles.CountStatements([]planner.ParentTuple{{Values: []interface{}{"1"}}})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"SELECT `t0`.`business_partner_id` AS `$parent/0`, COUNT(*) AS `$count` FROM `business_partner_roles` AS `t0` "+
			"WHERE `t0`.`role_category` <> ? AND `t0`.`business_partner_id` IN (?) GROUP BY `t0`.`business_partner_id`",
		stmts[0].SQL)
	assert.Equal(t, []interface{}{"C", "1"}, stmts[0].Args)
}

func TestCompileExpandChunksParents(t *testing.T) {
	q, err := compile(t, planner.Limits{MaxInClause: 2}, "/Organizations", "$expand=Roles")
	require.NoError(t, err)

	parents := []planner.ParentTuple{
		{Values: []interface{}{"1"}},
		{Values: []interface{}{"2"}},
		{Values: []interface{}{"3"}},
	}
	stmts, err := q.Root.Children[0].Statements(parents)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, []interface{}{"1", "2"}, stmts[0].Args)
	assert.Equal(t, []interface{}{"3"}, stmts[1].Args)
}

func TestCompileExpandWildcardAndEmbedded(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$expand=*")
	var names []string
	for _, child := range q.Root.Children {
		names = append(names, child.Name)
	}
	assert.Equal(t, []string{"Roles", "Image"}, names)
	assert.Equal(t, metamodel.ToOne, q.Root.Children[1].Multiplicity)

	q = mustCompile(t, "/Organizations", "$select=ID&$expand=Address/AdministrativeDivision($select=Population)")
	require.Len(t, q.Root.Children, 1)
	div := q.Root.Children[0]
	assert.Equal(t, "Address/AdministrativeDivision", div.Name)
	assert.Equal(t, []string{"$link/region"}, div.Links)
	assert.Contains(t, q.Root.Selection.Aliases(), "$link/region")
}

func TestCompileNestedExpandDepth(t *testing.T) {
	q := mustCompile(t, "/Organizations", "$expand=Roles($expand=Organization($expand=Roles))")
	assert.Equal(t, 3, q.Depth())
	nested := q.Root.Children[0].Children[0]
	assert.Equal(t, "Roles/Organization", nested.Path)
	assert.Equal(t, []string{"$link/business_partner_id"}, nested.Links)

	_, err := compile(t, planner.Limits{MaxExpandDepth: 2}, "/Organizations", "$expand=Roles($expand=Organization($expand=Roles))")
	assert.ErrorIs(t, err, planner.ErrExpandTooDeep)
	assert.ErrorIs(t, err, planner.ErrInvalidQuery)
}

func TestCompileStreamValue(t *testing.T) {
	q := mustCompile(t, "/OrganizationImages('1')/Image/$value", "")
	assert.Equal(t, planner.ResultValue, q.Kind)
	require.NotNil(t, q.Stream)
	assert.Equal(t, "Image", q.Stream.Alias())

	stmt, err := q.Statement()
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "`t0`.`image` AS `Image`")
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		query  string
		target error
	}{
		{name: "unknown entity set", path: "/Nope", target: planner.ErrUnknownEntitySet},
		{name: "unknown navigation", path: "/Organizations('1')/Nope", target: queryerr.ErrUnknownPathSegment},
		{name: "navigation without key", path: "/Organizations/Roles", target: planner.ErrInvalidQuery},
		{name: "wrong key arity", path: "/BusinessPartnerRoles('1')", target: planner.ErrInvalidQuery},
		{name: "unknown key name", path: "/BusinessPartnerRoles(Foo='1',RoleCategory='A')", target: planner.ErrInvalidQuery},
		{name: "value on scalar", path: "/Organizations('1')/Name1/$value", target: planner.ErrInvalidQuery},
		{name: "count of single entity", path: "/Organizations('1')/$count", target: planner.ErrInvalidQuery},
		{name: "order across to-many", path: "/Organizations", query: "$orderby=Roles/RoleCategory", target: queryerr.ErrJoinPlan},
		{name: "duplicate expand", path: "/Organizations", query: "$expand=Roles,Roles", target: planner.ErrInvalidQuery},
		{name: "expand of a scalar", path: "/Organizations", query: "$expand=Name1", target: queryerr.ErrMalformedPath},
		{name: "unknown select", path: "/Organizations", query: "$select=Nope", target: queryerr.ErrUnknownPathSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, planner.DefaultLimits(), tt.path, tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
