package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/query"
	"tidb-odata/internal/response"
	"tidb-odata/internal/sqltype"
	"tidb-odata/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func organization(t *testing.T) *hydrate.Entity {
	t.Helper()
	schema := testutil.Schema(t)
	count := int64(1)
	return &hydrate.Entity{
		Type: testutil.EntityType(t, schema, "Organization"),
		ID:   "Organizations('1')",
		ETag: `W/"1"`,
		Fields: []hydrate.Field{
			{Name: "ID", Type: sqltype.EdmString, Value: "1"},
			{Name: "Name2", Type: sqltype.EdmString, Value: nil},
			{Name: "Address", Value: &hydrate.Complex{Fields: []hydrate.Field{
				{Name: "CityName", Type: sqltype.EdmString, Value: "Test City"},
			}}},
		},
		Links: []hydrate.Link{
			{
				Name:  "Roles",
				Many:  true,
				Count: &count,
				Entities: []*hydrate.Entity{{
					Type:   testutil.EntityType(t, schema, "BusinessPartnerRole"),
					ID:     "BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='A')",
					Fields: []hydrate.Field{{Name: "RoleCategory", Type: sqltype.EdmString, Value: "A"}},
				}},
			},
			{
				Name: "Image",
				Entity: &hydrate.Entity{
					Type:  testutil.EntityType(t, schema, "OrganizationImage"),
					ID:    "OrganizationImages('1')",
					Media: map[string]hydrate.Media{"Image": {ContentType: "image/png", Data: []byte{1, 2}}},
				},
			},
			{Name: "Address/AdministrativeDivision"},
		},
	}
}

func TestWriteEntity(t *testing.T) {
	org := organization(t)
	req, err := odata.ParseRequest("/Organizations('1')", "$expand=Roles($count=true),Image")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	w := response.NewWriter("http://localhost/odata")
	require.NoError(t, w.Write(rec, req, &query.Result{Kind: planner.ResultEntity, Entity: org.Type, Entities: []*hydrate.Entity{org}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response.ContentTypeJSON, rec.Header().Get("Content-Type"))
	assert.Equal(t, "4.0", rec.Header().Get("OData-Version"))
	assert.JSONEq(t, `{
		"@odata.context": "http://localhost/odata/$metadata#Organizations/$entity",
		"@odata.id": "http://localhost/odata/Organizations('1')",
		"@odata.etag": "W/\"1\"",
		"ID": "1",
		"Name2": null,
		"Address": {"CityName": "Test City", "AdministrativeDivision": null},
		"Roles@odata.count": 1,
		"Roles": [{
			"@odata.id": "http://localhost/odata/BusinessPartnerRoles(BusinessPartnerID='1',RoleCategory='A')",
			"RoleCategory": "A"
		}],
		"Image": {
			"@odata.id": "http://localhost/odata/OrganizationImages('1')",
			"Image@odata.mediaContentType": "image/png",
			"Image@odata.mediaReadLink": "OrganizationImages('1')/Image/$value"
		}
	}`, rec.Body.String())

	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"@odata.context"`), strings.Index(body, `"@odata.id"`))
	assert.Less(t, strings.Index(body, `"Roles@odata.count"`), strings.Index(body, `"Roles":`))
}

func TestWriteCollection(t *testing.T) {
	org := organization(t)
	req, err := odata.ParseRequest("/Organizations", "$select=ID,Address/CityName&$count=true")
	require.NoError(t, err)
	total := int64(3)

	w := response.NewWriter("http://localhost/odata/")
	payload, err := w.Payload(req, &query.Result{
		Kind:     planner.ResultCollection,
		Entity:   org.Type,
		Entities: []*hydrate.Entity{org},
		Count:    &total,
	})
	require.NoError(t, err)

	ctx, _ := payload.Get("@odata.context")
	assert.Equal(t, "http://localhost/odata/$metadata#Organizations(ID,Address/CityName)", ctx)
	count, _ := payload.Get("@odata.count")
	assert.Equal(t, int64(3), count)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded struct {
		Value []map[string]interface{} `json:"value"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Value, 1)
	assert.Equal(t, "1", decoded.Value[0]["ID"])
}

func TestWriteEmptyCollection(t *testing.T) {
	schema := testutil.Schema(t)
	req, err := odata.ParseRequest("/Organizations", "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = response.NewWriter("/odata").Write(rec, req, &query.Result{
		Kind:     planner.ResultCollection,
		Entity:   testutil.EntityType(t, schema, "Organization"),
		Entities: []*hydrate.Entity{},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"@odata.context": "/odata/$metadata#Organizations", "value": []}`, rec.Body.String())
}

func TestWriteCountAndValue(t *testing.T) {
	n := int64(42)
	rec := httptest.NewRecorder()
	require.NoError(t, response.NewWriter("/odata").Write(rec, nil, &query.Result{Kind: planner.ResultCount, Count: &n}))
	assert.Equal(t, "42", rec.Body.String())
	assert.Equal(t, response.ContentTypeText, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	media := &hydrate.Media{ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8}}
	require.NoError(t, response.NewWriter("/odata").Write(rec, nil, &query.Result{Kind: planner.ResultValue, Media: media}))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, rec.Body.Bytes())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, response.WriteError(rec, http.StatusNotFound, "NotFound", "no such entity"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"NotFound","message":"no such entity"}}`, rec.Body.String())
}

func TestServiceDocument(t *testing.T) {
	doc := response.NewWriter("/odata").ServiceDocument(testutil.Schema(t))
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `{"name":"Organizations","kind":"EntitySet","url":"Organizations"}`)
}
