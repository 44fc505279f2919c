package query_test

import (
	"context"
	"testing"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/query"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFixture(t *testing.T, path, rawQuery string) (*query.Result, error) {
	t.Helper()
	db := testutil.OpenFixtureDB(t)
	engine := query.NewEngine(testutil.Schema(t), query.Options{
		Limits:    planner.DefaultLimits(),
		Hydration: hydrate.Options{Parallel: true},
	})
	return engine.Execute(context.Background(), dbexec.NewStandardExecutor(db), parse(t, path, rawQuery))
}

func entityIDs(entities []*hydrate.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func linked(t *testing.T, e *hydrate.Entity, name string) hydrate.Link {
	t.Helper()
	link, ok := e.Link(name)
	require.True(t, ok, "link %s", name)
	return link
}

func TestFixtureCollections(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		ids   []string
	}{
		{
			name: "all organizations",
			path: "/Organizations",
			ids:  []string{"Organizations('1')", "Organizations('2')", "Organizations('3')"},
		},
		{
			name:  "filter on complex leaf",
			path:  "/Organizations",
			query: "$filter=Address/CityName eq 'Test City'",
			ids:   []string{"Organizations('1')", "Organizations('2')"},
		},
		{
			name:  "filter on description",
			path:  "/Organizations",
			query: "$filter=Address/CountryName eq 'Germany'",
			ids:   []string{"Organizations('1')", "Organizations('3')"},
		},
		{
			name:  "any lambda",
			path:  "/Organizations",
			query: "$filter=Roles/any(r: r/RoleCategory eq 'B')",
			ids:   []string{"Organizations('1')"},
		},
		{
			name:  "all lambda",
			path:  "/Organizations",
			query: "$filter=Roles/all(r: r/RoleCategory eq 'A')",
			ids:   []string{"Organizations('2')"},
		},
		{
			name:  "to-one navigation in filter",
			path:  "/BusinessPartnerRoles",
			query: "$filter=Organization/Name1 eq 'Third Org.'",
			ids:   []string{"BusinessPartnerRoles(BusinessPartnerID='3',RoleCategory='C')"},
		},
		{
			name:  "contains and null",
			path:  "/Organizations",
			query: "$filter=contains(Name1,'Org') and Name2 eq null",
			ids:   []string{"Organizations('2')", "Organizations('3')"},
		},
		{
			name:  "search",
			path:  "/Organizations",
			query: "$search=another",
			ids:   []string{"Organizations('3')"},
		},
		{
			name:  "order by navigation count",
			path:  "/Organizations",
			query: "$orderby=Roles/$count desc,Name1 desc",
			ids:   []string{"Organizations('1')", "Organizations('3')", "Organizations('2')"},
		},
		{
			name:  "paging",
			path:  "/Organizations",
			query: "$orderby=ID desc&$top=1&$skip=1",
			ids:   []string{"Organizations('2')"},
		},
		{
			name:  "navigation chain",
			path:  "/Organizations('1')/Roles",
			query: "$filter=RoleCategory ne 'A'",
			ids: []string{
				"BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='B')",
				"BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='C')",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runFixture(t, tt.path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, planner.ResultCollection, result.Kind)
			assert.Equal(t, tt.ids, entityIDs(result.Entities))
		})
	}
}

func TestFixtureEntityWithComplexAndMedia(t *testing.T) {
	result, err := runFixture(t, "/Organizations('1')", "$expand=Image")
	require.NoError(t, err)
	assert.Equal(t, planner.ResultEntity, result.Kind)

	org, ok := result.Single()
	require.True(t, ok)
	assert.Equal(t, "Organizations('1')", org.ID)
	assert.Equal(t, `W/"1"`, org.ETag)

	city, _ := org.Value("Address/CityName")
	assert.Equal(t, "Test City", city)
	country, _ := org.Value("Address/CountryName")
	assert.Equal(t, "Germany", country)
	by, _ := org.Value("AdministrativeInformation/Created/By")
	assert.Equal(t, "Admin", by)
	updated, ok := org.Value("AdministrativeInformation/Updated/At")
	assert.True(t, ok)
	assert.Nil(t, updated)
	_, ok = org.Value("InternalNote")
	assert.False(t, ok)

	image := linked(t, org, "Image")
	require.NotNil(t, image.Entity)
	assert.Equal(t, "OrganizationImages('1')", image.Entity.ID)
	media := image.Entity.Media["Image"]
	assert.Equal(t, "image/png", media.ContentType)
	assert.Equal(t, []byte{0x01, 0x02}, media.Data)
}

func TestFixtureExpandPagedPerParent(t *testing.T) {
	result, err := runFixture(t, "/Organizations", "$select=ID&$expand=Roles($orderby=RoleCategory desc;$top=2;$count=true),Image")
	require.NoError(t, err)
	require.Len(t, result.Entities, 3)

	want := map[string][]string{
		"Organizations('1')": {"C", "B"},
		"Organizations('2')": {"A"},
		"Organizations('3')": {"C"},
	}
	counts := map[string]int64{
		"Organizations('1')": 3,
		"Organizations('2')": 1,
		"Organizations('3')": 1,
	}
	for _, org := range result.Entities {
		roles := linked(t, org, "Roles")
		var categories []string
		for _, role := range roles.Entities {
			v, _ := role.Value("RoleCategory")
			categories = append(categories, v.(string))
		}
		assert.Equal(t, want[org.ID], categories, org.ID)
		require.NotNil(t, roles.Count)
		assert.Equal(t, counts[org.ID], *roles.Count, org.ID)
	}

	assert.NotNil(t, linked(t, result.Entities[0], "Image").Entity)
	assert.Nil(t, linked(t, result.Entities[1], "Image").Entity)
}

func TestFixtureCompositeSelfExpand(t *testing.T) {
	result, err := runFixture(t,
		"/AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS1',DivisionCode='DE-BW')",
		"$expand=Children($count=true;$expand=Children),Parent")
	require.NoError(t, err)

	bw, ok := result.Single()
	require.True(t, ok)
	assert.Equal(t, "AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS1',DivisionCode='DE-BW')", bw.ID)
	population, _ := bw.Value("Population")
	assert.Equal(t, int64(10000), population)
	assert.Nil(t, linked(t, bw, "Parent").Entity)

	children := linked(t, bw, "Children")
	require.NotNil(t, children.Count)
	assert.Equal(t, int64(2), *children.Count)
	assert.Equal(t, []string{
		"AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS2',DivisionCode='DE11')",
		"AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS2',DivisionCode='DE12')",
	}, entityIDs(children.Entities))

	grand := linked(t, children.Entities[0], "Children")
	assert.Equal(t, []string{
		"AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS3',DivisionCode='DE111')",
	}, entityIDs(grand.Entities))
	none := linked(t, children.Entities[1], "Children")
	assert.NotNil(t, none.Entities)
	assert.Empty(t, none.Entities)
}

func TestFixtureToOneExpand(t *testing.T) {
	result, err := runFixture(t, "/AdministrativeDivisions", "$filter=CodeID eq 'NUTS2'&$expand=Parent($select=Population)")
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	for _, division := range result.Entities {
		parent := linked(t, division, "Parent")
		require.NotNil(t, parent.Entity)
		assert.Equal(t, "AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS1',DivisionCode='DE-BW')", parent.Entity.ID)
		assert.Nil(t, parent.Count)
	}
}

func TestFixtureCounts(t *testing.T) {
	result, err := runFixture(t, "/Organizations/$count", "$filter=Country eq 'DEU'")
	require.NoError(t, err)
	assert.Equal(t, planner.ResultCount, result.Kind)
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(2), *result.Count)

	result, err = runFixture(t, "/Organizations", "$top=1&$count=true")
	require.NoError(t, err)
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(3), *result.Count)
	assert.Len(t, result.Entities, 1)
}

func TestFixtureStreamValue(t *testing.T) {
	result, err := runFixture(t, "/PersonImages('99')/Image/$value", "")
	require.NoError(t, err)
	assert.Equal(t, planner.ResultValue, result.Kind)
	require.NotNil(t, result.Media)
	assert.Equal(t, "image/jpeg", result.Media.ContentType)
	assert.Equal(t, []byte{0xFF, 0xD8}, result.Media.Data)

	_, err = runFixture(t, "/OrganizationImages('2')/Image/$value", "")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestFixtureNotFound(t *testing.T) {
	_, err := runFixture(t, "/Organizations('9')", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, query.ErrNotFound)
	assert.Equal(t, query.ClassNotFound, query.Classify(err))
}
