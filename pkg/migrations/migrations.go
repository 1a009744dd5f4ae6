package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavour spoken by an opened database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens (creating if needed) a local sqlite database file, or an
// in-memory one when path is ":memory:".
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(err)
	}

	return db, nil
}

// OpenDSN opens the database a DSN points to:
//
//   - postgres:// and postgresql:// go through pgx
//   - libsql:// (turso) goes through the libsql client
//   - file:<path>, :memory: and bare paths open a local sqlite file
func OpenDSN(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, "", wrapOpenDB(fmt.Errorf("empty dsn"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", wrapOpenDB(err)
		}
		return pinged(ctx, db, Postgres)
	case strings.HasPrefix(dsn, "libsql://"):
		db, err := sql.Open("libsql", dsn)
		if err != nil {
			return nil, "", wrapOpenDB(err)
		}
		return pinged(ctx, db, SQLite)
	default:
		db, err := OpenDB(strings.TrimPrefix(dsn, "file:"))
		if err != nil {
			return nil, "", err
		}
		return db, SQLite, nil
	}
}

func pinged(ctx context.Context, db *sql.DB, dialect Dialect) (*sql.DB, Dialect, error) {
	err := db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, "", wrapOpenDB(err)
	}
	return db, dialect, nil
}

func wrapMigrate(err error) error {
	return fmt.Errorf("migrate db: %w", err)
}

// Migrate executes every statement of schema in order. Schemas are written
// with IF NOT EXISTS clauses so running them again is harmless.
func Migrate(ctx context.Context, db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isComment(stmt) {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return wrapMigrate(fmt.Errorf("%w\n%s", err, stmt))
		}
	}
	return nil
}

func isComment(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
