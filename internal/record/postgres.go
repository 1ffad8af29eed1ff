package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	maxOpenConns    = 4
	maxIdleConns    = 2
	connMaxLifetime = 15 * time.Minute
	writeTimeout    = 5 * time.Second
)

// PostgresSink inserts records into the certification table.
type PostgresSink struct {
	db     *sql.DB
	insert string
}

// OpenPostgres prepares a connection pool. The connection itself is
// established lazily on the first write.
func OpenPostgres(dsn, table string) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return &PostgresSink{db: db, insert: insertStatement(table)}, nil
}

func insertStatement(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (name, status, trace_id, user_account, type, error_msg, creation_date, updation_date, enabled_flag)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)`,
		pgx.Identifier{table}.Sanitize(),
	)
}

// Ping verifies connectivity.
func (s *PostgresSink) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.insert,
		rec.DisplayName,
		rec.OutcomeCode,
		rec.TraceID,
		rec.Subject,
		rec.Category,
		rec.ErrorDescriptor,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
