// Package sqldocs exposes the index SQL schema bundles directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the index schema DDL in the SQLite dialect.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the index schema DDL in the PostgreSQL dialect.
//
//go:embed postgres.sql
var Postgres string
