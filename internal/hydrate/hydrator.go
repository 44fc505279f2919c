// Package hydrate turns flat expand results into entity trees.
package hydrate

import (
	"context"
	"fmt"
	"runtime"

	"tidb-odata/internal/expand"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/sqltype"

	"golang.org/x/sync/errgroup"
)

// Options tune a Hydrator.
type Options struct {
	// Parallel hydrates root rows concurrently. All rows must already be
	// fetched; hydration itself does no I/O.
	Parallel bool
	// MaxWorkers bounds Parallel. Zero means GOMAXPROCS.
	MaxWorkers int
}

// Hydrator builds entities from expand results. It is safe for concurrent
// use.
type Hydrator struct {
	opts Options
	ids  IDBuilder
}

// NewHydrator returns a hydrator with the given options.
func NewHydrator(opts Options) *Hydrator {
	return &Hydrator{opts: opts}
}

// Hydrate builds one entity per root row, in row order. Zero rows yield an
// empty slice.
func (h *Hydrator) Hydrate(ctx context.Context, root *expand.Result) ([]*Entity, error) {
	if root == nil {
		return nil, queryerr.ErrNullEntityType
	}
	rows := root.Rows(expand.RootKey)
	out := make([]*Entity, len(rows))

	if !h.opts.Parallel || len(rows) < 2 {
		for i, row := range rows {
			entity, err := h.entity(root, row)
			if err != nil {
				return nil, err
			}
			out[i] = entity
		}
		return out, nil
	}

	workers := h.opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entity, err := h.entity(root, rows[i])
			if err != nil {
				return err
			}
			out[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Hydrator) entity(result *expand.Result, row expand.Tuple) (*Entity, error) {
	et := result.Entity()
	entity := &Entity{Type: et}

	fields, err := h.fields(et.Properties, "", row, entity)
	if err != nil {
		return nil, err
	}
	entity.Fields = fields

	keys := make([]interface{}, 0, len(et.Keys))
	for _, name := range et.Keys {
		v, ok := entity.Value(name)
		if !ok {
			return nil, fmt.Errorf("%s: key %s was not selected", et.EntitySet, name)
		}
		keys = append(keys, v)
	}
	id, err := h.ids.Build(et, keys)
	if err != nil {
		return nil, err
	}
	entity.ID = id

	if v, ok := row[planner.ETagAlias]; ok {
		entity.ETag = ETag(v)
	}

	for _, child := range result.Children() {
		link, err := h.link(child, row)
		if err != nil {
			return nil, err
		}
		entity.Links = append(entity.Links, link)
	}
	return entity, nil
}

// fields hydrates props in declaration order. Complex properties become
// nested values, streams go to entity.Media, and aliases missing from row
// were not selected and are skipped.
func (h *Hydrator) fields(props []*metamodel.Property, prefix string, row expand.Tuple, entity *Entity) ([]Field, error) {
	var out []Field
	for _, prop := range props {
		if prop.Ignore || prop.Kind == metamodel.KindNavigation {
			continue
		}
		alias := prefix + prop.Name

		switch {
		case prop.Kind == metamodel.KindComplex:
			nested, err := h.fields(prop.Complex.Properties, alias+"/", row, entity)
			if err != nil {
				return nil, err
			}
			if len(nested) == 0 {
				continue
			}
			out = append(out, Field{Name: prop.Name, Value: &Complex{Fields: nested}})

		case prop.IsStream():
			raw, ok := row[alias]
			if !ok {
				continue
			}
			data, err := Coerce(alias, sqltype.EdmStream, raw)
			if err != nil {
				return nil, err
			}
			media := Media{ContentType: prop.Media.ContentType}
			if data != nil {
				media.Data = data.([]byte)
			}
			if prop.Media.ContentTypeProperty != "" {
				ct, err := Coerce(planner.MediaAlias(alias), sqltype.EdmString, row[planner.MediaAlias(alias)])
				if err != nil {
					return nil, err
				}
				if ct != nil {
					media.ContentType = ct.(string)
				}
			}
			if entity.Media == nil {
				entity.Media = make(map[string]Media)
			}
			entity.Media[alias] = media

		default:
			raw, ok := row[alias]
			if !ok {
				continue
			}
			value, err := Coerce(alias, prop.Type, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, Field{Name: prop.Name, Type: prop.Type, Value: value})
		}
	}
	return out, nil
}

func (h *Hydrator) link(child expand.Child, row expand.Tuple) (Link, error) {
	key, err := expand.KeyFor(row, child.Links)
	if err != nil {
		return Link{}, err
	}
	rows := child.Result.Rows(key)
	link := Link{Name: child.Name, Many: child.Multiplicity == metamodel.ToMany}

	if link.Many {
		link.Entities = make([]*Entity, 0, len(rows))
		for _, r := range rows {
			entity, err := h.entity(child.Result, r)
			if err != nil {
				return Link{}, err
			}
			link.Entities = append(link.Entities, entity)
		}
	} else if len(rows) > 0 {
		link.Entity, err = h.entity(child.Result, rows[0])
		if err != nil {
			return Link{}, err
		}
	}

	if child.Result.HasCount() {
		n := child.Result.Count(key)
		link.Count = &n
	}
	return link, nil
}
