package naming

import (
	"log/slog"
	"strings"
)

// Namer provides all name transformation functions for converting SQL names
// to OData names. It handles pluralization, reserved words, and collisions.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// EntityTypeName converts a table name to a singular PascalCase type name.
// Example: "business_partners" -> "BusinessPartner"
func (n *Namer) EntityTypeName(tableName string) string {
	return n.safe(toPascalCase(n.singularLastToken(tableName)))
}

// EntitySetName converts a table name to a plural PascalCase entity set name.
// Example: "business_partner" -> "BusinessPartners"
func (n *Namer) EntitySetName(tableName string) string {
	singular := toPascalCase(n.singularLastToken(tableName))
	return n.safe(n.Pluralize(singular))
}

// PropertyName converts a column name to a PascalCase property name.
// Example: "city_name" -> "CityName"
func (n *Namer) PropertyName(columnName string) string {
	return n.safe(toPascalCase(columnName))
}

// ManyToOneNavigationName names a to-one navigation after the FK column with
// common suffixes stripped.
// Example: "business_partner_id" -> "BusinessPartner"
func (n *Namer) ManyToOneNavigationName(fkColumn string) string {
	name := fkColumn
	for _, suffix := range []string{"_id", "_fk", "_code"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) && len(name) > len(suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return n.PropertyName(name)
}

// OneToManyNavigationName names a to-many navigation. A single FK from the
// source table uses the pluralized table name; otherwise the FK column name
// prefixes it for disambiguation.
// Example: isOnlyFK=true: "roles" -> "Roles"
// Example: isOnlyFK=false, fkColumn="author_id": "posts" -> "AuthorPosts"
func (n *Namer) OneToManyNavigationName(sourceTable, fkColumn string, isOnlyFK bool) string {
	plural := n.Pluralize(toPascalCase(n.singularLastToken(sourceTable)))
	if isOnlyFK {
		return n.safe(plural)
	}
	return n.safe(n.ManyToOneNavigationName(fkColumn) + plural)
}

// RegisterEntityType registers a table and returns the resolved type name.
func (n *Namer) RegisterEntityType(tableName string) string {
	return n.resolver.RegisterType(n.EntityTypeName(tableName), tableName)
}

// RegisterEntitySet registers a table and returns the resolved entity set name.
func (n *Namer) RegisterEntitySet(tableName string) string {
	return n.resolver.RegisterSet(n.EntitySetName(tableName), tableName)
}

// RegisterColumnProperty registers a column property and returns the resolved name.
// Columns always win in precedence, so this establishes the property name.
func (n *Namer) RegisterColumnProperty(typeName, columnName string) string {
	return n.resolver.RegisterProperty(typeName, n.PropertyName(columnName), "column:"+columnName)
}

// RegisterNavigationProperty registers a navigation and returns the resolved
// name. A clash with a column property gets a Ref (to-one) or Rel (to-many)
// suffix before numeric suffixing applies.
func (n *Namer) RegisterNavigationProperty(typeName, name, source string, isToOne bool) string {
	if n.resolver.PropertyExists(typeName, name) {
		if isToOne {
			name += "Ref"
		} else {
			name += "Rel"
		}
	}
	return n.resolver.RegisterProperty(typeName, name, "navigation:"+source)
}

func (n *Namer) singularLastToken(tableName string) string {
	parts := strings.Split(tableName, "_")
	last := len(parts) - 1
	if last >= 0 && parts[last] != "" {
		parts[last] = n.Singularize(parts[last])
	}
	return strings.Join(parts, "_")
}

func (n *Namer) safe(name string) string {
	if isReservedName(name) {
		safeName := name + "_"
		n.logger.Warn("OData name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
