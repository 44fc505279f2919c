package naming

import "strings"

// reservedWords are tokens the $filter and $orderby grammars treat as
// keywords. A property with one of these names could not be referenced in a
// query option, so it gets a trailing underscore.
var reservedWords = map[string]bool{
	"and":      true,
	"or":       true,
	"not":      true,
	"eq":       true,
	"ne":       true,
	"lt":       true,
	"le":       true,
	"gt":       true,
	"ge":       true,
	"asc":      true,
	"desc":     true,
	"any":      true,
	"all":      true,
	"true":     true,
	"false":    true,
	"null":     true,
	"value":    true,
	"count":    true,
	"metadata": true,
}

func isReservedName(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "$") || strings.HasPrefix(lower, "@") {
		return true
	}
	return reservedWords[lower]
}
