package geometry

import "fmt"

// Expression is a SQL fragment with its bind arguments. Placeholders use ?;
// run the final statement through Dialect.Rebind.
type Expression struct {
	SQL  string
	Args []any
}

// RawSQL builds the geometry constructor for p. The WKT is bound as an
// argument and the SRID is written as an integer literal, so the SRID must
// come from column configuration and never from request input.
//
// The WKT is always POINT(lng lat). PostgreSQL gets an explicit ::geometry
// cast. MySQL 8 gets the long-lat axis option, without which a geographic
// SRID would read the longitude as a latitude. MariaDB takes neither.
func RawSQL(p SpatialPoint, d Dialect) Expression {
	var expr string
	switch d {
	case DialectMySQL:
		expr = fmt.Sprintf("ST_GeomFromText(?, %d, %s)", p.SRID(), longLat)
	case DialectPostgres:
		expr = fmt.Sprintf("ST_GeomFromText(?, %d)::geometry", p.SRID())
	default:
		expr = fmt.Sprintf("ST_GeomFromText(?, %d)", p.SRID())
	}
	return Expression{SQL: expr, Args: []any{WKT(p)}}
}
