package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered names and resolves collisions
// by applying numeric suffixes when duplicates are detected.
type CollisionResolver struct {
	seenTypes      map[string]string            // entity type name → source table
	seenSets       map[string]string            // entity set name → source table
	seenProperties map[string]map[string]string // type name → property name → source
	logger         *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenTypes:      make(map[string]string),
		seenSets:       make(map[string]string),
		seenProperties: make(map[string]map[string]string),
		logger:         logger,
	}
}

// RegisterType registers an entity type name and returns the resolved name.
func (c *CollisionResolver) RegisterType(typeName, tableName string) string {
	return c.resolveCollision(typeName, c.seenTypes, "table:"+tableName)
}

// RegisterSet registers an entity set name and returns the resolved name.
func (c *CollisionResolver) RegisterSet(setName, tableName string) string {
	return c.resolveCollision(setName, c.seenSets, "table:"+tableName)
}

// RegisterProperty registers a property name within a type and returns the resolved name.
func (c *CollisionResolver) RegisterProperty(typeName, propertyName, source string) string {
	if c.seenProperties[typeName] == nil {
		c.seenProperties[typeName] = make(map[string]string)
	}
	return c.resolveCollision(propertyName, c.seenProperties[typeName], source)
}

// PropertyExists checks if a property name already exists for a type.
func (c *CollisionResolver) PropertyExists(typeName, propertyName string) bool {
	if props, ok := c.seenProperties[typeName]; ok {
		_, exists := props[propertyName]
		return exists
	}
	return false
}

// resolveCollision attempts to register a name in the given map.
// If the name already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
