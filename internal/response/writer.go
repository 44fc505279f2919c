// Package response renders query results as OData JSON (minimal metadata).
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/query"
	"tidb-odata/internal/querypath"
)

// Response media types and the protocol version header value.
const (
	ContentTypeJSON   = "application/json;odata.metadata=minimal"
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
	Version           = "4.0"
)

// Writer renders results relative to a service root such as
// "http://localhost:8080/odata/".
type Writer struct {
	serviceRoot string
}

// NewWriter returns a writer for serviceRoot. A trailing slash is added when
// missing.
func NewWriter(serviceRoot string) *Writer {
	if !strings.HasSuffix(serviceRoot, "/") {
		serviceRoot += "/"
	}
	return &Writer{serviceRoot: serviceRoot}
}

// ServiceRoot returns the root every id and context URL is built on.
func (w *Writer) ServiceRoot() string {
	return w.serviceRoot
}

// Write renders result with status 200.
func (w *Writer) Write(rw http.ResponseWriter, req *odata.Request, result *query.Result) error {
	rw.Header().Set("OData-Version", Version)
	switch result.Kind {
	case planner.ResultCount:
		if result.Count == nil {
			return fmt.Errorf("count result without a count")
		}
		rw.Header().Set("Content-Type", ContentTypeText)
		rw.WriteHeader(http.StatusOK)
		_, err := rw.Write([]byte(strconv.FormatInt(*result.Count, 10)))
		return err
	case planner.ResultValue:
		if result.Media == nil {
			return fmt.Errorf("value result without media")
		}
		contentType := result.Media.ContentType
		if contentType == "" {
			contentType = ContentTypeBinary
		}
		rw.Header().Set("Content-Type", contentType)
		rw.WriteHeader(http.StatusOK)
		_, err := rw.Write(result.Media.Data)
		return err
	}

	payload, err := w.Payload(req, result)
	if err != nil {
		return err
	}
	return writeJSON(rw, http.StatusOK, payload)
}

// Payload builds the JSON document of an entity or collection result.
func (w *Writer) Payload(req *odata.Request, result *query.Result) (Object, error) {
	contextURL := w.ContextURL(result.Entity, req)
	switch result.Kind {
	case planner.ResultEntity:
		entity, ok := result.Single()
		if !ok {
			return nil, fmt.Errorf("entity result without an entity")
		}
		return append(Object{{Name: "@odata.context", Value: contextURL + "/$entity"}}, w.Entity(entity)...), nil
	case planner.ResultCollection:
		doc := Object{{Name: "@odata.context", Value: contextURL}}
		if result.Count != nil {
			doc = append(doc, Member{Name: "@odata.count", Value: *result.Count})
		}
		return append(doc, Member{Name: "value", Value: w.entities(result.Entities)}), nil
	default:
		return nil, fmt.Errorf("result kind %s has no JSON payload", result.Kind)
	}
}

// ContextURL returns the @odata.context of results of entity, including the
// $select list when one was given.
func (w *Writer) ContextURL(entity *metamodel.EntityType, req *odata.Request) string {
	url := w.serviceRoot + "$metadata#" + entity.EntitySet
	if req != nil && req.Options.Select != nil && !req.Options.Select.All && len(req.Options.Select.Paths) > 0 {
		url += "(" + strings.Join(req.Options.Select.Paths, ",") + ")"
	}
	return url
}

// Entity renders one entity with its annotations, properties, media
// annotations and expanded navigations.
func (w *Writer) Entity(e *hydrate.Entity) Object {
	obj := Object{{Name: "@odata.id", Value: w.serviceRoot + e.ID}}
	if e.ETag != "" {
		obj = append(obj, Member{Name: "@odata.etag", Value: e.ETag})
	}
	obj = append(obj, fields(e.Fields)...)

	names := make([]string, 0, len(e.Media))
	for name := range e.Media {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, alias := range names {
		media := e.Media[alias]
		parent, leaf := splitAlias(alias)
		if media.ContentType != "" {
			obj = obj.insert(parent, Member{Name: leaf + "@odata.mediaContentType", Value: media.ContentType})
		}
		obj = obj.insert(parent, Member{Name: leaf + "@odata.mediaReadLink", Value: e.ID + "/" + alias + "/$value"})
	}

	for _, link := range e.Links {
		parent, leaf := splitAlias(link.Name)
		if link.Count != nil {
			obj = obj.insert(parent, Member{Name: leaf + "@odata.count", Value: *link.Count})
		}
		if link.Many {
			obj = obj.insert(parent, Member{Name: leaf, Value: w.entities(link.Entities)})
			continue
		}
		var value interface{}
		if link.Entity != nil {
			value = w.Entity(link.Entity)
		}
		obj = obj.insert(parent, Member{Name: leaf, Value: value})
	}
	return obj
}

func (w *Writer) entities(list []*hydrate.Entity) []Object {
	out := make([]Object, 0, len(list))
	for _, e := range list {
		out = append(out, w.Entity(e))
	}
	return out
}

func fields(list []hydrate.Field) Object {
	obj := make(Object, 0, len(list))
	for _, f := range list {
		if c, ok := f.Value.(*hydrate.Complex); ok {
			obj = append(obj, Member{Name: f.Name, Value: fields(c.Fields)})
			continue
		}
		obj = append(obj, Member{Name: f.Name, Value: f.Value})
	}
	return obj
}

// splitAlias separates the complex-property prefix of a path alias from its
// last segment.
func splitAlias(alias string) ([]string, string) {
	parts := strings.Split(alias, querypath.Separator)
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// ServiceDocument lists the entity sets of schema.
func (w *Writer) ServiceDocument(schema *metamodel.Schema) Object {
	names := schema.EntitySetNames()
	sets := make([]Object, 0, len(names))
	for _, name := range names {
		sets = append(sets, Object{
			{Name: "name", Value: name},
			{Name: "kind", Value: "EntitySet"},
			{Name: "url", Value: name},
		})
	}
	return Object{
		{Name: "@odata.context", Value: w.serviceRoot + "$metadata"},
		{Name: "value", Value: sets},
	}
}

// WriteServiceDocument renders the service document of schema.
func (w *Writer) WriteServiceDocument(rw http.ResponseWriter, schema *metamodel.Schema) error {
	rw.Header().Set("OData-Version", Version)
	return writeJSON(rw, http.StatusOK, w.ServiceDocument(schema))
}

// WriteError renders an OData error body with status.
func WriteError(rw http.ResponseWriter, status int, code, message string) error {
	rw.Header().Set("OData-Version", Version)
	return writeJSON(rw, status, Object{{Name: "error", Value: Object{
		{Name: "code", Value: code},
		{Name: "message", Value: message},
	}}})
}

func writeJSON(rw http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	rw.Header().Set("Content-Type", ContentTypeJSON)
	rw.WriteHeader(status)
	_, err = rw.Write(body)
	return err
}
