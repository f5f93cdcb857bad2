// Package geometry converts coordinates to and from stored spatial point
// values for the two supported SQL dialect families: MySQL (MySQL 8 and
// MariaDB) and PostgreSQL with PostGIS.
package geometry

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
)

// Dialect identifies a SQL server dialect.
type Dialect int

const (
	// DialectMySQL is MySQL 8. Geographic SRIDs such as 4326 read and
	// write coordinates in the SRS axis order (latitude first) unless told
	// otherwise.
	DialectMySQL Dialect = iota + 1
	// DialectPostgres covers PostgreSQL with PostGIS.
	DialectPostgres
	// DialectMariaDB is the MySQL family without SRS axis order: X is
	// always longitude.
	DialectMariaDB
)

// longLat is the MySQL 8 option that pins WKT and WKB to x = longitude.
const longLat = "'axis-order=long-lat'"

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "postgres"
	case DialectMariaDB:
		return "mariadb"
	default:
		return "unknown"
	}
}

// Family returns the dialect family: DialectMySQL for MySQL and MariaDB,
// DialectPostgres for PostgreSQL. Family members share a driver, storage
// format and schema.
func (d Dialect) Family() Dialect {
	if d == DialectMariaDB {
		return DialectMySQL
	}
	return d
}

// DriverName returns the database/sql driver name registered for d.
func (d Dialect) DriverName() string {
	switch d.Family() {
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "pgx"
	default:
		return ""
	}
}

// ParseDialect resolves a configured dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return DialectMySQL, nil
	case "mariadb":
		return DialectMariaDB, nil
	case "postgres", "postgresql", "pgx", "postgis":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("geometry: unsupported dialect %q", name)
	}
}

// DialectOf resolves the dialect family of an open database handle from its
// driver. MySQL and MariaDB share a driver, so a MySQL-family handle reports
// DialectMySQL; use ServerDialect to tell them apart.
func DialectOf(db *sql.DB) (Dialect, error) {
	switch db.Driver().(type) {
	case *mysql.MySQLDriver:
		return DialectMySQL, nil
	case *stdlib.Driver:
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("geometry: unsupported driver %T", db.Driver())
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax. Placeholders
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			sb.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// ServerDialect refines family with the server's VERSION() string. Only the
// MySQL family has more than one member.
func ServerDialect(family Dialect, version string) Dialect {
	if family.Family() != DialectMySQL {
		return family
	}
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return DialectMariaDB
	}
	return DialectMySQL
}

// SelectPoint returns the select expression that yields column in the binary
// form FromStorage decodes. For MySQL 8 that is the stored SRID prefix
// followed by WKB read explicitly in longitude-latitude order, the same
// layout MariaDB returns for the bare column.
func (d Dialect) SelectPoint(column string) string {
	switch d {
	case DialectPostgres:
		return "ST_AsEWKB(" + column + ")"
	case DialectMySQL:
		return fmt.Sprintf("CONCAT(UNHEX(LEFT(HEX(%s), 8)), ST_AsBinary(%s, %s))", column, column, longLat)
	default:
		return column
	}
}
