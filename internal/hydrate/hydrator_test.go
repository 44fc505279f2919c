package hydrate_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tidb-odata/internal/expand"
	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootResult(t *testing.T, entity string, rows ...expand.Tuple) *expand.Result {
	t.Helper()
	schema := testutil.Schema(t)
	r, err := expand.NewResult(map[expand.Key][]expand.Tuple{expand.RootKey: rows}, nil, testutil.EntityType(t, schema, entity))
	require.NoError(t, err)
	return r
}

func parentKey(t *testing.T, values ...interface{}) expand.Key {
	t.Helper()
	k, err := expand.KeyOf(values)
	require.NoError(t, err)
	return k
}

func TestHydrateComplexRoundTrip(t *testing.T) {
	created := time.Date(2016, 1, 20, 9, 21, 23, 0, time.UTC)
	root := rootResult(t, "Organization", expand.Tuple{
		"ID":                                   []byte("1"),
		"Name1":                                "First Org.",
		"Address/CityName":                     "Test City",
		"Address/Country":                      "DEU",
		"Address/CountryName":                  "Germany",
		"AdministrativeInformation/Created/By": "Admin",
		"AdministrativeInformation/Created/At": created,
		"$etag":                                int64(3),
		"$link/id":                             "1",
	})

	entities, err := hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	org := entities[0]

	assert.Equal(t, "Organizations('1')", org.ID)
	assert.Equal(t, `W/"3"`, org.ETag)

	names := []string{}
	for _, f := range org.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"ID", "Name1", "Address", "AdministrativeInformation"}, names)

	city, ok := org.Value("Address/CityName")
	require.True(t, ok)
	assert.Equal(t, "Test City", city)
	country, _ := org.Value("Address/CountryName")
	assert.Equal(t, "Germany", country)
	by, ok := org.Value("AdministrativeInformation/Created/By")
	require.True(t, ok)
	assert.Equal(t, "Admin", by)
	at, _ := org.Value("AdministrativeInformation/Created/At")
	assert.Equal(t, created, at)

	address, _ := org.Value("Address")
	complexValue, ok := address.(*hydrate.Complex)
	require.True(t, ok)
	assert.Len(t, complexValue.Fields, 3)

	_, ok = org.Value("AdministrativeInformation/Updated")
	assert.False(t, ok, "unselected complex properties are omitted")
	_, ok = org.Value("$link/id")
	assert.False(t, ok)
}

func TestHydrateChildren(t *testing.T) {
	schema := testutil.Schema(t)
	root := rootResult(t, "Organization",
		expand.Tuple{"ID": "1", "$link/id": "1"},
		expand.Tuple{"ID": "2", "$link/id": "2"},
	)
	roles, err := expand.NewResult(map[expand.Key][]expand.Tuple{
		parentKey(t, "1"): {
			{"BusinessPartnerID": "1", "RoleCategory": "A", "$parent/0": "1"},
			{"BusinessPartnerID": "1", "RoleCategory": "B", "$parent/0": "1"},
		},
	}, map[expand.Key]int64{parentKey(t, "1"): 2}, testutil.EntityType(t, schema, "BusinessPartnerRole"))
	require.NoError(t, err)
	image, err := expand.NewResult(nil, nil, testutil.EntityType(t, schema, "OrganizationImage"))
	require.NoError(t, err)

	require.NoError(t, root.RegisterChildren(
		expand.Child{Name: "Roles", Multiplicity: metamodel.ToMany, Links: []string{"$link/id"}, Result: roles},
		expand.Child{Name: "Image", Multiplicity: metamodel.ToOne, Links: []string{"$link/id"}, Result: image},
	))

	entities, err := hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	first, ok := entities[0].Link("Roles")
	require.True(t, ok)
	assert.True(t, first.Many)
	require.Len(t, first.Entities, 2)
	assert.Equal(t, "BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='B')", first.Entities[1].ID)
	require.NotNil(t, first.Count)
	assert.Equal(t, int64(2), *first.Count)

	second, ok := entities[1].Link("Roles")
	require.True(t, ok)
	assert.NotNil(t, second.Entities)
	assert.Empty(t, second.Entities)
	require.NotNil(t, second.Count)
	assert.Equal(t, int64(0), *second.Count)

	img, ok := entities[0].Link("Image")
	require.True(t, ok)
	assert.False(t, img.Many)
	assert.Nil(t, img.Entity)
	assert.Nil(t, img.Count)

	names := []string{}
	for _, l := range entities[0].Links {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"Roles", "Image"}, names)
}

func TestHydrateMedia(t *testing.T) {
	static := rootResult(t, "OrganizationImage", expand.Tuple{"ID": "1", "Image": []byte{0x01, 0x02}})
	entities, err := hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), static)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	media, ok := entities[0].Media["Image"]
	require.True(t, ok)
	assert.Equal(t, "image/png", media.ContentType)
	assert.Equal(t, []byte{0x01, 0x02}, media.Data)
	_, ok = entities[0].Value("Image")
	assert.False(t, ok, "streams are not regular fields")

	dynamic := rootResult(t, "PersonImage", expand.Tuple{
		"PersonID":     "99",
		"Image":        []byte{0xFF, 0xD8},
		"$media/Image": []byte("image/jpeg"),
		"MimeType":     "image/jpeg",
	})
	entities, err = hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), dynamic)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", entities[0].Media["Image"].ContentType)
	assert.Equal(t, "PersonImages('99')", entities[0].ID)
}

func TestHydrateTypeMismatch(t *testing.T) {
	root := rootResult(t, "AdministrativeDivision", expand.Tuple{
		"CodePublisher": "Eurostat",
		"CodeID":        "NUTS1",
		"DivisionCode":  "DE-BW",
		"Population":    "many",
	})
	_, err := hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), root)
	require.Error(t, err)
	assert.ErrorIs(t, err, queryerr.ErrHydrationTypeMismatch)
}

func TestHydrateCompositeID(t *testing.T) {
	root := rootResult(t, "AdministrativeDivision", expand.Tuple{
		"CodePublisher": "Eurostat",
		"CodeID":        "NUTS1",
		"DivisionCode":  "DE-BW",
		"Population":    []byte("10000"),
	})
	entities, err := hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS1',DivisionCode='DE-BW')", entities[0].ID)
	population, _ := entities[0].Value("Population")
	assert.Equal(t, int64(10000), population)
}

func TestHydrateEmpty(t *testing.T) {
	root := rootResult(t, "Organization")
	entities, err := hydrate.NewHydrator(hydrate.Options{Parallel: true}).Hydrate(context.Background(), root)
	require.NoError(t, err)
	assert.NotNil(t, entities)
	assert.Empty(t, entities)

	_, err = hydrate.NewHydrator(hydrate.Options{}).Hydrate(context.Background(), nil)
	assert.ErrorIs(t, err, queryerr.ErrNullEntityType)
}

func TestHydrateParallelKeepsOrder(t *testing.T) {
	rows := make([]expand.Tuple, 50)
	for i := range rows {
		rows[i] = expand.Tuple{"ID": fmt.Sprint(i)}
	}
	root := rootResult(t, "Organization", rows...)

	entities, err := hydrate.NewHydrator(hydrate.Options{Parallel: true, MaxWorkers: 4}).Hydrate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entities, 50)
	for i, e := range entities {
		assert.Equal(t, fmt.Sprintf("Organizations('%d')", i), e.ID)
	}
}

func TestHydrateParallelReportsErrors(t *testing.T) {
	rows := []expand.Tuple{
		{"ID": "1"},
		{"ID": "2", "ETag": "not a number"},
		{"ID": "3"},
	}
	root := rootResult(t, "Organization", rows...)
	_, err := hydrate.NewHydrator(hydrate.Options{Parallel: true}).Hydrate(context.Background(), root)
	assert.ErrorIs(t, err, queryerr.ErrHydrationTypeMismatch)
}
