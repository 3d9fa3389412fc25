package sql

import (
	"fmt"
	"strings"
)

// Dialect captures the differences between supported SQL engines
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }

var (
	// Postgres uses numbered placeholders
	Postgres Dialect = postgresDialect{}
	// SQLite uses positional placeholders
	SQLite Dialect = sqliteDialect{}
)

// DialectFor maps a database/sql driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
}
