// Package intercept holds the closed, read-only catalogue of canonical SQL
// strings this module answers directly instead of forwarding to the
// backend driver: the handshake/introspection queries PostgreSQL client
// libraries (lib/pq, pgx, JDBC, psycopg, ORMs) issue right after connect,
// which the backend has no notion of (there is no pg_catalog to query).
package intercept

import (
	"strings"

	"github.com/lib/pq/oid"
)

// Column describes one result column of a canned response, independent of
// the row-writer's own Column type so this package has no dependency on
// the session engine.
type Column struct {
	Name string
	OID  oid.Oid
}

// Entry is a canned response: a fixed row set and command tag, returned
// verbatim whenever the matching SQL text is classified.
type Entry struct {
	Columns []Column
	Rows    [][]any
	Tag     string
}

var table map[string]*Entry

func init() {
	table = map[string]*Entry{
		normalize("select version()"): {
			Columns: []Column{{Name: "version", OID: oid.T_text}},
			Rows:    [][]any{{"PostgreSQL 14.9 (relaydb/pgwire)"}},
			Tag:     "SELECT 1",
		},
		normalize("select current_schema()"): {
			Columns: []Column{{Name: "current_schema", OID: oid.T_text}},
			Rows:    [][]any{{"public"}},
			Tag:     "SELECT 1",
		},
		normalize("show transaction isolation level"): {
			Columns: []Column{{Name: "transaction_isolation", OID: oid.T_text}},
			Rows:    [][]any{{"read committed"}},
			Tag:     "SHOW",
		},
		normalize("select current_database()"): {
			Columns: []Column{{Name: "current_database", OID: oid.T_text}},
			Rows:    [][]any{{"postgres"}},
			Tag:     "SELECT 1",
		},
		// lib/pq and pgx both probe pg_type for OID->name resolution of
		// types they don't recognize by OID alone; this module supports a
		// closed, fixed type set so the probe always comes back empty.
		normalize("select oid, typname from pg_type"): {
			Columns: []Column{{Name: "oid", OID: oid.T_oid}, {Name: "typname", OID: oid.T_text}},
			Rows:    nil,
			Tag:     "SELECT 0",
		},
		// ORM migration-table existence probes (e.g. golang-migrate,
		// gorm AutoMigrate) query pg_class/pg_namespace for a table that
		// never exists in this deployment model.
		normalize("select 1 from pg_class c join pg_namespace n on n.oid = c.relnamespace"): {
			Columns: []Column{{Name: "?column?", OID: oid.T_int4}},
			Rows:    nil,
			Tag:     "SELECT 0",
		},
	}
}

func normalize(sql string) string {
	return strings.ToLower(strings.Join(strings.Fields(sql), " "))
}

// Lookup returns the canned Entry for sql, matched on whitespace- and
// case-normalized text. The table is fixed at startup; there is no
// registration API, by design (spec's closed-catalogue decision).
func Lookup(sql string) (*Entry, bool) {
	e, ok := table[normalize(sql)]
	return e, ok
}
