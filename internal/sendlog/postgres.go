package sendlog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationTable = "bulk_mailer_migrations"

// PostgresLog stores entries in the send_log table.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, applies pending migrations and
// returns a ready log.
func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresLog(pool), nil
}

// NewPostgresLog wraps an already migrated pool.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	// Shares the pool's connections; closing it would close the pool.
	db := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{logger})
	goose.SetTableName(migrationTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Append inserts all recipients in one transaction.
func (l *PostgresLog) Append(ctx context.Context, runID string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	batch := &pgx.Batch{}
	for _, r := range recipients {
		batch.Queue(`INSERT INTO send_log (run_id, recipient) VALUES ($1, $2)`, runID, r)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Join(fmt.Errorf("%w: %v", ErrStorageWrite, err), tx.Rollback(ctx))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

// Recent returns the newest entries, oldest first.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT run_id, recipient, sent_at FROM send_log ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.RunID, &e.Recipient, &e.SentAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}

	slices.Reverse(entries)
	return entries, nil
}

// Close releases the pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}

type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}
