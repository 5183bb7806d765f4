// Package migrations holds the goose migrations for vetric. Portable schema
// lives in .sql files; DDL that differs per driver is written in Go.
package migrations

// dialect is set by the parent db package before migrations are applied.
var dialect = "sqlite3"

// SetDialect selects the driver-specific DDL used by Go migrations.
// Valid values: "sqlite3", "postgres", "mysql".
func SetDialect(d string) {
	dialect = d
}
