package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RealZimboGuy/convoflow/internal/config"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/core"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholderList builds a comma separated list of bind variables starting
// at the given index, used for IN () clauses.
func placeholderList(start, count int) string {
	pps := make([]string, 0, count)
	for i := 0; i < count; i++ {
		pps = append(pps, placeholder(start+i))
	}
	return strings.Join(pps, ", ")
}

func nowFunc(clock core.Clock) string {
	// Format the clock's current time in UTC with microsecond precision

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		// Quote the timestamp literal for SQL
		return fmt.Sprintf("'%s'", clock.Now().UTC().Format("2006-01-02 15:04:05.000000"))
	case config.DATABASE_TYPE_SQLLITE:
		return fmt.Sprintf("'%s'", clock.Now().UTC().Format("2006-01-02 15:04:05.000"))
	default:
		return fmt.Sprintf("'%s'", clock.Now().UTC().Format("2006-01-02 15:04:05.000000"))
	}
}

// dateBeforeCutoff returns a DB-specific SQL predicate that checks if the
// provided datetime column is strictly before the cutoff. This avoids
// string comparisons in SQLite by coercing via julianday().
func dateBeforeCutoff(column string, cutoff time.Time) string {
	ts := cutoff.UTC().Format("2006-01-02 15:04:05.000")

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		// Can compare directly
		return fmt.Sprintf("%s < '%s'", column, ts)
	case config.DATABASE_TYPE_SQLLITE:
		// Use julianday for SQLite so TEXT/REAL/INTEGER timestamps are comparable
		return fmt.Sprintf("julianday(%s) < julianday('%s')", column, ts)
	default:
		// Fallback to SQLite-compatible
		return fmt.Sprintf("julianday(%s) < julianday('%s')", column, ts)
	}
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

// fromDual is needed for MySQL when a SELECT of literals carries a WHERE
// clause; Postgres and SQLite accept the bare form.
func fromDual() string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return " FROM DUAL"
	}
	return ""
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}

	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		// Format as string for SQLite
		return t.Time.UTC().Format("2006-01-02 15:04:05.000")
	}

	// MySQL also needs string format (without T and Z)
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.Time.UTC().Format("2006-01-02 15:04:05.000000")
	}

	// Return time.Time directly for PostgreSQL
	return t.Time
}
