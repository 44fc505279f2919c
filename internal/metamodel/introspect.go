package metamodel

import (
	"fmt"
	"log/slog"
	"strings"

	"tidb-odata/internal/introspection"
	"tidb-odata/internal/naming"
)

// FromIntrospection derives a schema from database metadata. Each base table
// with a primary key becomes an entity type; columns become scalar properties
// and foreign keys become navigations in both directions. Tables without a
// primary key cannot be addressed and are skipped.
func FromIntrospection(db *introspection.Schema, namespace string, namer *naming.Namer, logger *slog.Logger) (*Schema, error) {
	if db == nil {
		return nil, fmt.Errorf("introspected schema is nil")
	}
	if namer == nil {
		namer = naming.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	typeByTable := make(map[string]string)
	included := make([]introspection.Table, 0, len(db.Tables))
	for _, table := range db.Tables {
		if table.IsView {
			logger.Debug("skipping view", slog.String("table", table.Name))
			continue
		}
		if len(introspection.PrimaryKeyColumns(table)) == 0 {
			logger.Warn("skipping table without primary key", slog.String("table", table.Name))
			continue
		}
		typeByTable[table.Name] = namer.RegisterEntityType(table.Name)
		included = append(included, table)
	}

	desc := Descriptor{Namespace: namespace}
	for _, table := range included {
		typeName := typeByTable[table.Name]
		ed := EntityTypeDescriptor{
			Name:      typeName,
			EntitySet: namer.RegisterEntitySet(table.Name),
			Table:     table.Name,
		}

		propertyByColumn := make(map[string]string, len(table.Columns))
		for _, col := range table.Columns {
			name := namer.RegisterColumnProperty(typeName, col.Name)
			propertyByColumn[col.Name] = name
			ed.Properties = append(ed.Properties, PropertyDescriptor{
				Name:     name,
				Column:   col.Name,
				Type:     introspection.EffectiveEdmType(col).String(),
				Nullable: col.IsNullable,
			})
		}
		for _, pk := range introspection.PrimaryKeyColumns(table) {
			ed.Keys = append(ed.Keys, propertyByColumn[pk.Name])
		}

		for _, rel := range table.Relationships {
			target, ok := typeByTable[rel.RemoteTable]
			if !ok {
				continue
			}
			source := table.Name + "." + strings.Join(rel.LocalColumns, ",") + "->" + rel.RemoteTable
			nav := &NavigationDescriptor{Target: target, Multiplicity: ToMany.String()}
			if rel.IsManyToOne {
				nav.Multiplicity = ToOne.String()
			}
			for i := range rel.LocalColumns {
				nav.Join = append(nav.Join, JoinColumnDescriptor{Local: rel.LocalColumns[i], Remote: rel.RemoteColumns[i]})
			}
			ed.Properties = append(ed.Properties, PropertyDescriptor{
				Name:       namer.RegisterNavigationProperty(typeName, rel.NavigationName, source, rel.IsManyToOne),
				Navigation: nav,
			})
		}
		desc.EntityTypes = append(desc.EntityTypes, ed)
	}

	return Build(desc)
}
