package metamodel

import (
	"errors"
	"fmt"
)

// Validate checks structural consistency of the schema. All problems are
// reported together.
func (s *Schema) Validate() error {
	var errs []error
	sets := make(map[string]string)
	names := make(map[string]struct{})

	for _, ct := range s.ComplexTypes {
		errs = append(errs, validateProperties(ct.Name, ct)...)
		if cycle := complexCycle(ct, nil); cycle != "" {
			errs = append(errs, fmt.Errorf("complex type %s: embeds itself via %s", ct.Name, cycle))
		}
	}

	for _, et := range s.EntityTypes {
		if _, dup := names[et.Name]; dup {
			errs = append(errs, fmt.Errorf("entity type %s: declared twice", et.Name))
		}
		names[et.Name] = struct{}{}
		if owner, dup := sets[et.EntitySet]; dup {
			errs = append(errs, fmt.Errorf("entity type %s: entity set %s already used by %s", et.Name, et.EntitySet, owner))
		}
		sets[et.EntitySet] = et.Name

		if et.Table == "" {
			errs = append(errs, fmt.Errorf("entity type %s: table is required", et.Name))
		}
		if len(et.Keys) == 0 {
			errs = append(errs, fmt.Errorf("entity type %s: at least one key property is required", et.Name))
		}
		for _, key := range et.Keys {
			p, ok := et.Property(key)
			if !ok {
				errs = append(errs, fmt.Errorf("entity type %s: key %s is not a property", et.Name, key))
				continue
			}
			if p.Kind != KindScalar || p.Description != nil || p.Media != nil {
				errs = append(errs, fmt.Errorf("entity type %s: key %s must be a plain scalar property", et.Name, key))
			}
		}
		errs = append(errs, validateProperties(et.Name, et)...)
	}
	return errors.Join(errs...)
}

func validateProperties(owner string, scope StructuredType) []error {
	var errs []error
	seen := make(map[string]struct{})
	for _, p := range scope.AllProperties() {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: property without name", owner))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.%s: declared twice", owner, p.Name))
		}
		seen[p.Name] = struct{}{}

		switch p.Kind {
		case KindScalar:
			errs = append(errs, validateScalar(owner, scope, p)...)
		case KindComplex:
			if p.Complex == nil {
				errs = append(errs, fmt.Errorf("%s.%s: complex type is not resolved", owner, p.Name))
			}
		case KindNavigation:
			nav := p.Navigation
			if nav == nil || nav.Target == nil {
				errs = append(errs, fmt.Errorf("%s.%s: navigation target is not resolved", owner, p.Name))
				continue
			}
			if len(nav.JoinColumns) == 0 {
				errs = append(errs, fmt.Errorf("%s.%s: navigation requires join columns", owner, p.Name))
			}
			for _, jc := range nav.JoinColumns {
				if jc.Local == "" || jc.Remote == "" {
					errs = append(errs, fmt.Errorf("%s.%s: join column pairs need both local and remote", owner, p.Name))
				}
			}
		}
	}
	return errs
}

func validateScalar(owner string, scope StructuredType, p *Property) []error {
	var errs []error
	if p.Description != nil {
		d := p.Description
		if d.Table == "" || d.Column == "" || len(d.JoinColumns) == 0 {
			errs = append(errs, fmt.Errorf("%s.%s: description requires table, column and join", owner, p.Name))
		}
	} else if p.Column == "" {
		errs = append(errs, fmt.Errorf("%s.%s: column is required", owner, p.Name))
	}

	if p.Media != nil {
		m := p.Media
		switch {
		case m.ContentType == "" && m.ContentTypeProperty == "":
			errs = append(errs, fmt.Errorf("%s.%s: media stream needs contentType or contentTypeProperty", owner, p.Name))
		case m.ContentType != "" && m.ContentTypeProperty != "":
			errs = append(errs, fmt.Errorf("%s.%s: media stream cannot set both contentType and contentTypeProperty", owner, p.Name))
		case m.ContentTypeProperty != "":
			sibling, ok := scope.Property(m.ContentTypeProperty)
			if !ok || sibling.Kind != KindScalar {
				errs = append(errs, fmt.Errorf("%s.%s: content type property %s is not a scalar sibling", owner, p.Name, m.ContentTypeProperty))
			}
		}
	}
	return errs
}

func complexCycle(ct *ComplexType, stack []string) string {
	for _, name := range stack {
		if name == ct.Name {
			return fmt.Sprint(append(stack, ct.Name))
		}
	}
	stack = append(stack, ct.Name)
	for _, p := range ct.Properties {
		if p.Kind != KindComplex || p.Complex == nil {
			continue
		}
		if cycle := complexCycle(p.Complex, stack); cycle != "" {
			return cycle
		}
	}
	return ""
}
