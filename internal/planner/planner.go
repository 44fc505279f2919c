// Package planner compiles parsed OData requests into parameterized SQL.
// It resolves select, filter and order paths into joins and correlated
// subqueries, and plans one child statement family per $expand level while
// enforcing the configured request limits.
package planner
