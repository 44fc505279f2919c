package expand_test

import (
	"testing"
	"time"

	"tidb-odata/internal/expand"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(t *testing.T, values ...interface{}) expand.Key {
	t.Helper()
	k, err := expand.KeyOf(values)
	require.NoError(t, err)
	return k
}

func newResult(t *testing.T, entity string, rows map[expand.Key][]expand.Tuple, counts map[expand.Key]int64) *expand.Result {
	t.Helper()
	schema := testutil.Schema(t)
	r, err := expand.NewResult(rows, counts, testutil.EntityType(t, schema, entity))
	require.NoError(t, err)
	return r
}

func TestNewResultRequiresEntity(t *testing.T) {
	_, err := expand.NewResult(nil, nil, nil)
	assert.ErrorIs(t, err, queryerr.ErrNullEntityType)
}

func TestResultRowCounts(t *testing.T) {
	rows := map[expand.Key][]expand.Tuple{
		key(t, "1"): {{"RoleCategory": "A"}, {"RoleCategory": "B"}, {"RoleCategory": "C"}},
		key(t, "2"): {{"RoleCategory": "A"}, {"RoleCategory": "B"}},
	}
	r := newResult(t, "BusinessPartnerRole", rows, nil)

	assert.Equal(t, 2, r.RowCountShallow())
	assert.Equal(t, 5, r.RowCountDeep())
	assert.Len(t, r.Rows(key(t, "1")), 3)
	assert.Empty(t, r.Rows(key(t, "99")))
	assert.False(t, r.HasCount())
	assert.Equal(t, int64(0), r.Count(key(t, "1")))
}

func TestResultCounts(t *testing.T) {
	counts := map[expand.Key]int64{key(t, "1"): 3}
	r := newResult(t, "BusinessPartnerRole", nil, counts)

	assert.True(t, r.HasCount())
	assert.Equal(t, int64(3), r.Count(key(t, "1")))
	assert.Equal(t, int64(0), r.Count(key(t, "2")))
	assert.Equal(t, 0, r.RowCountShallow())
}

func TestRegisterChildren(t *testing.T) {
	parent := newResult(t, "Organization", nil, nil)
	roles := expand.Child{Name: "Roles", Multiplicity: metamodel.ToMany, Result: newResult(t, "BusinessPartnerRole", nil, nil)}
	image := expand.Child{Name: "Image", Multiplicity: metamodel.ToOne, Result: newResult(t, "OrganizationImage", nil, nil)}

	require.NoError(t, parent.RegisterChildren(roles))
	require.NoError(t, parent.RegisterChildren(image))

	err := parent.RegisterChildren(roles)
	assert.ErrorIs(t, err, queryerr.ErrDuplicateExpandRegistration)

	names := []string{}
	for _, child := range parent.Children() {
		names = append(names, child.Name)
	}
	assert.Equal(t, []string{"Roles", "Image"}, names)

	got, ok := parent.Child("Image")
	require.True(t, ok)
	assert.Same(t, image.Result, got.Result)
}

func TestRegisterChildrenIsAllOrNothing(t *testing.T) {
	parent := newResult(t, "Organization", nil, nil)
	roles := expand.Child{Name: "Roles", Result: newResult(t, "BusinessPartnerRole", nil, nil)}
	image := expand.Child{Name: "Image", Result: newResult(t, "OrganizationImage", nil, nil)}
	require.NoError(t, parent.RegisterChildren(roles))

	err := parent.RegisterChildren(image, roles)
	assert.ErrorIs(t, err, queryerr.ErrDuplicateExpandRegistration)
	assert.Len(t, parent.Children(), 1)
	_, ok := parent.Child("Image")
	assert.False(t, ok)

	fresh := newResult(t, "Organization", nil, nil)
	err = fresh.RegisterChildren(image, image)
	assert.ErrorIs(t, err, queryerr.ErrDuplicateExpandRegistration)
	assert.Empty(t, fresh.Children())
}

func TestKeyNormalizesDriverTypes(t *testing.T) {
	assert.Equal(t, key(t, "1", "A"), key(t, []byte("1"), []byte("A")))
	assert.Equal(t, key(t, int64(7)), key(t, "7"))
	assert.NotEqual(t, key(t, "1", "A"), key(t, "1A"))
	assert.NotEqual(t, key(t, nil), key(t, ""))

	ts := time.Date(2016, 1, 20, 9, 21, 23, 0, time.UTC)
	assert.Equal(t, key(t, ts), key(t, ts.In(time.FixedZone("CET", 3600))))
}

func TestGroup(t *testing.T) {
	rows := []expand.Tuple{
		{"$parent/0": "1", "RoleCategory": "A"},
		{"$parent/0": []byte("2"), "RoleCategory": "A"},
		{"$parent/0": "1", "RoleCategory": "B"},
	}
	grouped, err := expand.Group(rows, []string{"$parent/0"})
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Equal(t, []expand.Tuple{rows[0], rows[2]}, grouped[key(t, "1")])

	_, err = expand.Group(rows, []string{"$parent/1"})
	assert.Error(t, err)
}

func binaryGuid(third byte) []byte {
	return []byte{0x12, 0x34, third, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
}

func TestKeyOfBinaryValues(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []interface{}
		equal bool
	}{
		{
			name: "high bytes differ",
			a:    []interface{}{binaryGuid(0x80)},
			b:    []interface{}{binaryGuid(0x81)},
		},
		{
			name:  "same bytes",
			a:     []interface{}{binaryGuid(0x80)},
			b:     []interface{}{binaryGuid(0x80)},
			equal: true,
		},
		{
			name: "value boundary",
			a:    []interface{}{"1:2", "3"},
			b:    []interface{}{"1", "2:3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := key(t, tt.a...), key(t, tt.b...)
			if tt.equal {
				assert.Equal(t, ka, kb)
			} else {
				assert.NotEqual(t, ka, kb)
			}
		})
	}
}

func TestGroupBinaryKeys(t *testing.T) {
	rows := []expand.Tuple{
		{"$parent/0": binaryGuid(0x80), "RoleCategory": "A"},
		{"$parent/0": binaryGuid(0x81), "RoleCategory": "B"},
	}
	grouped, err := expand.Group(rows, []string{"$parent/0"})
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Equal(t, []expand.Tuple{rows[0]}, grouped[key(t, binaryGuid(0x80))])
	assert.Equal(t, []expand.Tuple{rows[1]}, grouped[key(t, binaryGuid(0x81))])
}
