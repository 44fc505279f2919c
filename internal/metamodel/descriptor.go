package metamodel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tidb-odata/internal/sqltype"
)

// Descriptor is the on-disk YAML form of a Schema.
type Descriptor struct {
	Namespace    string                  `yaml:"namespace"`
	ComplexTypes []ComplexTypeDescriptor `yaml:"complexTypes"`
	EntityTypes  []EntityTypeDescriptor  `yaml:"entityTypes"`
}

// ComplexTypeDescriptor describes an embedded structure.
type ComplexTypeDescriptor struct {
	Name       string               `yaml:"name"`
	Properties []PropertyDescriptor `yaml:"properties"`
}

// EntityTypeDescriptor describes an entity type and its entity set.
type EntityTypeDescriptor struct {
	Name       string               `yaml:"name"`
	EntitySet  string               `yaml:"entitySet"`
	Table      string               `yaml:"table"`
	Keys       []string             `yaml:"keys"`
	Properties []PropertyDescriptor `yaml:"properties"`
}

// PropertyDescriptor describes one property. The kind is inferred: a
// navigation block makes a navigation, complexType makes an embedded
// property, anything else is a scalar.
type PropertyDescriptor struct {
	Name         string                 `yaml:"name"`
	Column       string                 `yaml:"column,omitempty"`
	Type         string                 `yaml:"type,omitempty"`
	Nullable     bool                   `yaml:"nullable,omitempty"`
	Ignore       bool                   `yaml:"ignore,omitempty"`
	Searchable   bool                   `yaml:"searchable,omitempty"`
	Version      bool                   `yaml:"version,omitempty"`
	ComplexType  string                 `yaml:"complexType,omitempty"`
	ColumnPrefix string                 `yaml:"columnPrefix,omitempty"`
	Navigation   *NavigationDescriptor  `yaml:"navigation,omitempty"`
	Media        *MediaDescriptor       `yaml:"media,omitempty"`
	Description  *DescriptionDescriptor `yaml:"description,omitempty"`
}

// NavigationDescriptor describes an association.
type NavigationDescriptor struct {
	Target       string                 `yaml:"target"`
	Multiplicity string                 `yaml:"multiplicity"`
	Join         []JoinColumnDescriptor `yaml:"join"`
}

// JoinColumnDescriptor pairs a local and a remote column.
type JoinColumnDescriptor struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// MediaDescriptor configures a stream property.
type MediaDescriptor struct {
	ContentType         string `yaml:"contentType,omitempty"`
	ContentTypeProperty string `yaml:"contentTypeProperty,omitempty"`
}

// DescriptionDescriptor configures a description leaf.
type DescriptionDescriptor struct {
	Table  string                 `yaml:"table"`
	Column string                 `yaml:"column"`
	Join   []JoinColumnDescriptor `yaml:"join"`
}

// LoadFile reads and builds a schema from a YAML descriptor file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	schema, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return schema, nil
}

// Parse builds a schema from YAML bytes.
func Parse(data []byte) (*Schema, error) {
	return Load(bytes.NewReader(data))
}

// Load decodes a YAML descriptor from r and builds the schema. Unknown keys
// are rejected so typos in the descriptor surface at startup.
func Load(r io.Reader) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var desc Descriptor
	if err := dec.Decode(&desc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("schema descriptor is empty")
		}
		return nil, fmt.Errorf("failed to decode schema descriptor: %w", err)
	}
	return Build(desc)
}

// Build resolves type references in desc and validates the result.
func Build(desc Descriptor) (*Schema, error) {
	schema := &Schema{Namespace: desc.Namespace}

	complexByName := make(map[string]*ComplexType, len(desc.ComplexTypes))
	for _, cd := range desc.ComplexTypes {
		ct := &ComplexType{Name: cd.Name}
		schema.ComplexTypes = append(schema.ComplexTypes, ct)
		complexByName[cd.Name] = ct
	}
	entityByName := make(map[string]*EntityType, len(desc.EntityTypes))
	for _, ed := range desc.EntityTypes {
		et := &EntityType{
			Name:      ed.Name,
			EntitySet: ed.EntitySet,
			Table:     ed.Table,
			Keys:      append([]string(nil), ed.Keys...),
		}
		if et.EntitySet == "" {
			et.EntitySet = ed.Name + "s"
		}
		if et.Table == "" {
			et.Table = strings.ToLower(et.EntitySet)
		}
		schema.EntityTypes = append(schema.EntityTypes, et)
		entityByName[ed.Name] = et
	}

	var errs []error
	for i, cd := range desc.ComplexTypes {
		props, err := buildProperties(cd.Properties, complexByName, entityByName)
		if err != nil {
			errs = append(errs, fmt.Errorf("complex type %s: %w", cd.Name, err))
		}
		schema.ComplexTypes[i].Properties = props
	}
	for i, ed := range desc.EntityTypes {
		props, err := buildProperties(ed.Properties, complexByName, entityByName)
		if err != nil {
			errs = append(errs, fmt.Errorf("entity type %s: %w", ed.Name, err))
		}
		schema.EntityTypes[i].Properties = props
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	schema.index()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func buildProperties(descs []PropertyDescriptor, complexByName map[string]*ComplexType, entityByName map[string]*EntityType) ([]*Property, error) {
	props := make([]*Property, 0, len(descs))
	var errs []error
	for _, pd := range descs {
		prop := &Property{
			Name:         pd.Name,
			Column:       pd.Column,
			Nullable:     pd.Nullable,
			Ignore:       pd.Ignore,
			Searchable:   pd.Searchable,
			Version:      pd.Version,
			ColumnPrefix: pd.ColumnPrefix,
		}
		edm, err := sqltype.ParseEdmType(pd.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("property %s: %w", pd.Name, err))
		}
		prop.Type = edm

		switch {
		case pd.Navigation != nil:
			prop.Kind = KindNavigation
			target, ok := entityByName[pd.Navigation.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("property %s: unknown navigation target %q", pd.Name, pd.Navigation.Target))
				continue
			}
			mult, err := parseMultiplicity(pd.Navigation.Multiplicity)
			if err != nil {
				errs = append(errs, fmt.Errorf("property %s: %w", pd.Name, err))
			}
			prop.Navigation = &Navigation{
				Target:       target,
				Multiplicity: mult,
				JoinColumns:  joinColumns(pd.Navigation.Join),
			}
		case pd.ComplexType != "":
			prop.Kind = KindComplex
			ct, ok := complexByName[pd.ComplexType]
			if !ok {
				errs = append(errs, fmt.Errorf("property %s: unknown complex type %q", pd.Name, pd.ComplexType))
				continue
			}
			prop.Complex = ct
		default:
			prop.Kind = KindScalar
			if pd.Media != nil {
				prop.Media = &Media{
					ContentType:         pd.Media.ContentType,
					ContentTypeProperty: pd.Media.ContentTypeProperty,
				}
				if pd.Type == "" {
					prop.Type = sqltype.EdmStream
				}
			}
			if pd.Description != nil {
				prop.Description = &Description{
					Table:       pd.Description.Table,
					Column:      pd.Description.Column,
					JoinColumns: joinColumns(pd.Description.Join),
				}
			}
		}
		props = append(props, prop)
	}
	return props, errors.Join(errs...)
}

func joinColumns(descs []JoinColumnDescriptor) []JoinColumn {
	cols := make([]JoinColumn, len(descs))
	for i, d := range descs {
		cols[i] = JoinColumn{Local: d.Local, Remote: d.Remote}
	}
	return cols
}

func parseMultiplicity(raw string) (Multiplicity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "one", "0..1", "1":
		return ToOne, nil
	case "many", "*":
		return ToMany, nil
	default:
		return ToOne, fmt.Errorf("unsupported multiplicity %q", raw)
	}
}

// Descriptor converts a schema back to its YAML form.
func (s *Schema) Descriptor() Descriptor {
	desc := Descriptor{Namespace: s.Namespace}
	for _, ct := range s.ComplexTypes {
		desc.ComplexTypes = append(desc.ComplexTypes, ComplexTypeDescriptor{
			Name:       ct.Name,
			Properties: propertyDescriptors(ct.Properties),
		})
	}
	for _, et := range s.EntityTypes {
		desc.EntityTypes = append(desc.EntityTypes, EntityTypeDescriptor{
			Name:       et.Name,
			EntitySet:  et.EntitySet,
			Table:      et.Table,
			Keys:       append([]string(nil), et.Keys...),
			Properties: propertyDescriptors(et.Properties),
		})
	}
	return desc
}

// MarshalYAML renders the schema as a descriptor document.
func (s *Schema) MarshalYAML() (interface{}, error) {
	return s.Descriptor(), nil
}

func propertyDescriptors(props []*Property) []PropertyDescriptor {
	out := make([]PropertyDescriptor, 0, len(props))
	for _, p := range props {
		pd := PropertyDescriptor{
			Name:         p.Name,
			Column:       p.Column,
			Nullable:     p.Nullable,
			Ignore:       p.Ignore,
			Searchable:   p.Searchable,
			Version:      p.Version,
			ColumnPrefix: p.ColumnPrefix,
		}
		switch p.Kind {
		case KindNavigation:
			pd.Navigation = &NavigationDescriptor{
				Target:       p.Navigation.Target.Name,
				Multiplicity: p.Navigation.Multiplicity.String(),
				Join:         joinColumnDescriptors(p.Navigation.JoinColumns),
			}
		case KindComplex:
			pd.ComplexType = p.Complex.Name
		default:
			pd.Type = p.Type.String()
			if p.Media != nil {
				pd.Media = &MediaDescriptor{ContentType: p.Media.ContentType, ContentTypeProperty: p.Media.ContentTypeProperty}
			}
			if p.Description != nil {
				pd.Description = &DescriptionDescriptor{
					Table:  p.Description.Table,
					Column: p.Description.Column,
					Join:   joinColumnDescriptors(p.Description.JoinColumns),
				}
			}
		}
		out = append(out, pd)
	}
	return out
}

func joinColumnDescriptors(cols []JoinColumn) []JoinColumnDescriptor {
	out := make([]JoinColumnDescriptor, len(cols))
	for i, c := range cols {
		out[i] = JoinColumnDescriptor{Local: c.Local, Remote: c.Remote}
	}
	return out
}
