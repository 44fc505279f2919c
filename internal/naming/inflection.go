package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Pluralize converts a singular word to its plural form.
// Overrides are matched case-insensitively, then the inflection library is used.
func (n *Namer) Pluralize(word string) string {
	if override, ok := lookupOverride(n.config.PluralOverrides, word); ok {
		return override
	}
	return inflection.Plural(word)
}

// Singularize converts a plural word to its singular form.
func (n *Namer) Singularize(word string) string {
	if override, ok := lookupOverride(n.config.SingularOverrides, word); ok {
		return override
	}
	return inflection.Singular(word)
}

func lookupOverride(overrides map[string]string, word string) (string, bool) {
	if override, ok := overrides[word]; ok {
		return override, true
	}
	for key, override := range overrides {
		if strings.EqualFold(key, word) {
			return matchLeadingCase(word, override), true
		}
	}
	return "", false
}

func matchLeadingCase(reference, word string) string {
	if reference == "" || word == "" {
		return word
	}
	if strings.ToUpper(reference[:1]) == reference[:1] {
		return strings.ToUpper(word[:1]) + word[1:]
	}
	return word
}
