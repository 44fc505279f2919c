// Package sqlutil holds the identifier quoting and pattern escaping shared by
// the statement builders. Output is valid for both MySQL and SQLite.
package sqlutil

import "strings"

// LikeEscape is the escape character used in LIKE patterns. Backslash is
// avoided since MySQL also treats it as a string literal escape.
const LikeEscape = "!"

var likeReplacer = strings.NewReplacer(
	LikeEscape, LikeEscape+LikeEscape,
	"%", LikeEscape+"%",
	"_", LikeEscape+"_",
)

// QuoteIdentifier wraps name in backticks, doubling embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Qualified returns alias.column with both parts quoted. An empty alias
// yields the bare quoted column.
func Qualified(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// TableAs renders a FROM or JOIN source: `table` AS `alias`.
func TableAs(table, alias string) string {
	return QuoteIdentifier(table) + " AS " + QuoteIdentifier(alias)
}

// EscapeLike escapes LIKE wildcards in s so it matches literally when used
// with ESCAPE LikeEscape.
func EscapeLike(s string) string {
	return likeReplacer.Replace(s)
}
