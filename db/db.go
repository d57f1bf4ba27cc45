package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Logger receives every statement run through the helpers below.
var Logger = log.New(os.Stdout, "[db] ", log.LstdFlags|log.Lmicroseconds)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open returns a verified connection to the Postgres database at dsn.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sqlOpen(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return conn, nil
}

// sqlOpen opens a database handle without pinging.
func sqlOpen(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func LogAndQuery(ctx context.Context, db Querier, query string, args ...interface{}) (*sql.Rows, error) {
	logStatement(query, args)

	return db.QueryContext(ctx, query, args...)
}

func LogAndQueryRow(ctx context.Context, db Querier, query string, args ...interface{}) *sql.Row {
	logStatement(query, args)

	return db.QueryRowContext(ctx, query, args...)
}

func LogAndExec(ctx context.Context, db Querier, query string, args ...interface{}) (sql.Result, error) {
	logStatement(query, args)

	return db.ExecContext(ctx, query, args...)
}

func logStatement(query string, args []interface{}) {
	if len(args) == 0 {
		Logger.Println(query)
		return
	}
	Logger.Println(query, args)
}
