// Package index implements the relational index of the DICOM store: the
// four-level resource tree, its tags, metadata, attachments, the change log
// and the patient recycling queue. The reference backend is embedded SQLite;
// the same code runs against PostgreSQL through a small dialect shim.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"dicomcore/pkg/domain"
)

// Database owns one index database connection pool.
type Database struct {
	sql     *sql.DB
	dialect dialect
	log     zerolog.Logger
}

// OpenSQLite opens (and if needed creates) a SQLite index at path. The
// special path ":memory:" yields a private in-memory database.
func OpenSQLite(path string, log zerolog.Logger) (*Database, error) {
	dsn := path
	if path == ":memory:" {
		// A shared cache keeps the schema visible across pooled connections.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDatabase, "open sqlite index", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under
	// the store's one-transaction-at-a-time model.
	db.SetMaxOpenConns(1)
	return initialize(&Database{sql: db, dialect: dialectSQLite, log: log})
}

// OpenPostgres opens a PostgreSQL index.
func OpenPostgres(dsn string, log zerolog.Logger) (*Database, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDatabase, "open postgres index", err)
	}
	return initialize(&Database{sql: db, dialect: dialectPostgres, log: log})
}

// Environment variables:
//
//	DICOMCORE_INDEX_DRIVER=sqlite|postgres (default sqlite)
//	DICOMCORE_SQLITE_PATH=<file> (default ./dicomcore.db)
//	DICOMCORE_POSTGRES_DSN=<dsn> (required for postgres)

// OpenFromEnv selects and opens the index database from process environment.
func OpenFromEnv(log zerolog.Logger) (*Database, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DICOMCORE_INDEX_DRIVER")))
	switch driver {
	case "", "sqlite":
		path := strings.TrimSpace(os.Getenv("DICOMCORE_SQLITE_PATH"))
		if path == "" {
			path = "./dicomcore.db"
		}
		return OpenSQLite(path, log)
	case "postgres":
		dsn := strings.TrimSpace(os.Getenv("DICOMCORE_POSTGRES_DSN"))
		if dsn == "" {
			return nil, fmt.Errorf("DICOMCORE_POSTGRES_DSN required for postgres driver")
		}
		return OpenPostgres(dsn, log)
	default:
		return nil, fmt.Errorf("unknown index driver %q", driver)
	}
}

func initialize(db *Database) (*Database, error) {
	ctx := context.Background()
	for _, stmt := range schemaStatements(db.dialect) {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			_ = db.sql.Close()
			return nil, domain.WrapError(domain.ErrDatabase, "create index schema", err)
		}
	}

	version, ok, err := db.lookupGlobalProperty(ctx, GlobalPropertyDatabaseSchemaVersion)
	if err != nil {
		_ = db.sql.Close()
		return nil, err
	}
	if !ok {
		if err := db.setGlobalProperty(ctx, GlobalPropertyDatabaseSchemaVersion,
			strconv.Itoa(schemaVersion)); err != nil {
			_ = db.sql.Close()
			return nil, err
		}
		db.log.Info().Int("version", schemaVersion).Msg("initialized index schema")
		return db, nil
	}

	found, err := strconv.Atoi(version)
	if err != nil || found > schemaVersion {
		_ = db.sql.Close()
		return nil, domain.Errorf(domain.ErrDatabase,
			"index schema version %q not supported (up to %d)", version, schemaVersion)
	}
	return db, nil
}

// Close releases the connection pool.
func (db *Database) Close() error {
	return db.sql.Close()
}

// FlushToDisk forces a durability barrier where the backend supports one.
func (db *Database) FlushToDisk(ctx context.Context) error {
	if db.dialect != dialectSQLite {
		return nil
	}
	_, err := db.sql.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return domain.WrapError(domain.ErrDatabase, "flush to disk", err)
	}
	return nil
}

func (db *Database) lookupGlobalProperty(ctx context.Context, property int) (string, bool, error) {
	row := db.sql.QueryRowContext(ctx,
		db.dialect.rebind("SELECT value FROM GlobalProperties WHERE property = ?"), property)
	var value string
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, domain.WrapError(domain.ErrDatabase, "lookup global property", err)
	}
}

func (db *Database) setGlobalProperty(ctx context.Context, property int, value string) error {
	query := `INSERT INTO GlobalProperties(property, value) VALUES(?, ?)
		ON CONFLICT(property) DO UPDATE SET value = excluded.value`
	if _, err := db.sql.ExecContext(ctx, db.dialect.rebind(query), property, value); err != nil {
		return domain.WrapError(domain.ErrDatabase, "set global property", err)
	}
	return nil
}

// Transaction wraps one database transaction together with the listener that
// collects its side-effect signals.
type Transaction struct {
	ctx      context.Context
	tx       *sql.Tx
	d        dialect
	listener Listener
	done     bool
}

// Begin opens a transaction. The listener may be nil for read-only work.
func (db *Database) Begin(ctx context.Context, readOnly bool, listener Listener) (*Transaction, error) {
	tx, err := db.sql.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly && db.dialect == dialectPostgres})
	if err != nil {
		return nil, domain.WrapError(domain.ErrDatabase, "begin transaction", err)
	}
	return &Transaction{ctx: ctx, tx: tx, d: db.dialect, listener: listener}, nil
}

// Commit finishes the transaction. Committing twice is a protocol violation.
func (t *Transaction) Commit() error {
	if t.done {
		return domain.NewError(domain.ErrBadSequenceOfCalls, "transaction already finished")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrDatabase, "commit", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a
// no-op so it can sit in a defer.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}

func (t *Transaction) exec(query string, args ...any) error {
	if _, err := t.tx.ExecContext(t.ctx, t.d.rebind(query), args...); err != nil {
		return domain.WrapError(domain.ErrDatabase, "exec", err)
	}
	return nil
}

func (t *Transaction) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, t.d.rebind(query), args...)
}

func (t *Transaction) query(query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDatabase, "query", err)
	}
	return rows, nil
}

func (t *Transaction) queryInts(query string, args ...any) ([]int64, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapError(domain.ErrDatabase, "scan", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *Transaction) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, domain.WrapError(domain.ErrDatabase, "scan", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LookupGlobalProperty reads one global property inside the transaction.
func (t *Transaction) LookupGlobalProperty(property int) (string, bool, error) {
	row := t.queryRow("SELECT value FROM GlobalProperties WHERE property = ?", property)
	var value string
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, domain.WrapError(domain.ErrDatabase, "lookup global property", err)
	}
}

// SetGlobalProperty writes one global property inside the transaction.
func (t *Transaction) SetGlobalProperty(property int, value string) error {
	return t.exec(`INSERT INTO GlobalProperties(property, value) VALUES(?, ?)
		ON CONFLICT(property) DO UPDATE SET value = excluded.value`, property, value)
}

// IncrementGlobalSequence bumps a counter stored as a global property and
// returns the new value. A missing property starts at 1.
func (t *Transaction) IncrementGlobalSequence(property int) (int64, error) {
	raw, ok, err := t.LookupGlobalProperty(property)
	if err != nil {
		return 0, err
	}
	next := int64(1)
	if ok {
		current, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, domain.Errorf(domain.ErrDatabase, "global sequence %d holds %q", property, raw)
		}
		next = current + 1
	}
	if err := t.SetGlobalProperty(property, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}
