package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL creates the append-only results table. Placeholders are replaced
// with sanitized identifiers because the table name is configurable.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore serves two roles: read-only historical footprint lookups and
// the append-only analytics sink for scored records.
type PostgresStore struct {
	pool         *pgxpool.Pool
	historyTable string

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL, historyTable string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:         pool,
		historyTable: historyTable,
		ensured:      map[string]bool{},
	}, nil
}

// EnsureSchema creates the results table if missing. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context, resultsTable string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ensured[resultsTable] {
		return nil
	}
	if _, err := p.pool.Exec(ctx, renderSchema(resultsTable)); err != nil {
		return fmt.Errorf("ensure schema %s: %w", resultsTable, err)
	}
	p.ensured[resultsTable] = true
	return nil
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func renderSchema(table string) string {
	index := strings.ReplaceAll(table, ".", "_") + "_ingest_ts_idx"
	return strings.NewReplacer(
		"{{results_table}}", tableIdent(table),
		"{{results_index}}", pgx.Identifier{index}.Sanitize(),
	).Replace(schemaSQL)
}

// tableIdent quotes an optionally schema-qualified table name.
func tableIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
