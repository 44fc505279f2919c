package querypath

import (
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
)

// Resolve walks raw segment by segment starting at owner. A path whose final
// segment is a navigation resolves to an *AssociationPath, anything else to an
// *AttributePath.
func Resolve(owner *metamodel.EntityType, raw string) (Path, error) {
	segments, err := resolveSegments(owner, raw)
	if err != nil {
		return nil, err
	}
	base := newBasePath(owner, segments)
	if base.Leaf().Kind == NavigationSegment {
		return &AssociationPath{basePath: base}, nil
	}
	return &AttributePath{basePath: base}, nil
}

// ResolveAttribute resolves raw and requires it to end at a scalar or complex property.
func ResolveAttribute(owner *metamodel.EntityType, raw string) (*AttributePath, error) {
	p, err := Resolve(owner, raw)
	if err != nil {
		return nil, err
	}
	attr, ok := p.(*AttributePath)
	if !ok {
		return nil, queryerr.MalformedPath(raw, "expected a property path, got a navigation")
	}
	return attr, nil
}

// ResolveAssociation resolves raw and requires it to end at a navigation.
func ResolveAssociation(owner *metamodel.EntityType, raw string) (*AssociationPath, error) {
	p, err := Resolve(owner, raw)
	if err != nil {
		return nil, err
	}
	assoc, ok := p.(*AssociationPath)
	if !ok {
		return nil, queryerr.MalformedPath(raw, "expected a navigation path")
	}
	return assoc, nil
}

func resolveSegments(owner *metamodel.EntityType, raw string) ([]Segment, error) {
	if owner == nil {
		return nil, queryerr.ErrNullEntityType
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, queryerr.MalformedPath(raw, "path is empty")
	}
	names := strings.Split(trimmed, Separator)
	segments := make([]Segment, 0, len(names))

	var scope metamodel.StructuredType = owner
	for i, name := range names {
		if name == "" {
			return nil, queryerr.MalformedPath(raw, "path contains an empty segment")
		}
		prop, ok := scope.Property(name)
		if !ok {
			return nil, queryerr.UnknownSegment(raw, name, scope.TypeName())
		}
		seg := Segment{Name: name, Property: prop, Scope: scope}
		switch prop.Kind {
		case metamodel.KindScalar:
			if i != len(names)-1 {
				return nil, queryerr.TrailingAfterScalar(raw, name)
			}
			seg.Kind = ScalarSegment
		case metamodel.KindComplex:
			seg.Kind = ComplexSegment
			scope = prop.Complex
		case metamodel.KindNavigation:
			seg.Kind = NavigationSegment
			scope = prop.Navigation.Target
		default:
			return nil, queryerr.MalformedPath(raw, "unsupported property kind "+prop.Kind.String())
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
