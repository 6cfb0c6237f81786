// internal/store/postgres/postgres.go

// Package postgres implements store.Store on PostgreSQL with sqlx and goqu.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/libranexus/internal/store"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

// Store is the PostgreSQL store.Store.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("libranexus/store"),
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn at READ COMMITTED. Callers serialize per title with TitleRepository.Lock.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "store.tx")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx, tracer: s.tracer}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}

	if err := tx.Commit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

type pgTx struct {
	tx     *sqlx.Tx
	tracer trace.Tracer
}

func (t *pgTx) Titles() store.TitleRepository             { return titles{t} }
func (t *pgTx) Copies() store.CopyRepository              { return copies{t} }
func (t *pgTx) Loans() store.LoanRepository               { return loans{t} }
func (t *pgTx) Reservations() store.ReservationRepository { return reservations{t} }
func (t *pgTx) Notices() store.NoticeRepository           { return notices{t} }
func (t *pgTx) Members() store.MemberRepository           { return members{t} }
func (t *pgTx) Events() store.EventRepository             { return events{t} }

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (t *pgTx) get(ctx context.Context, dest interface{}, q sqlBuilder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return mapErr(t.tx.GetContext(ctx, dest, query, args...))
}

func (t *pgTx) selectAll(ctx context.Context, dest interface{}, q sqlBuilder) error {
	query, args, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return mapErr(t.tx.SelectContext(ctx, dest, query, args...))
}

func (t *pgTx) exec(ctx context.Context, q sqlBuilder) (int64, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

// mapErr translates driver errors into store errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pqErr.Constraint)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", store.ErrNotFound, pqErr.Constraint)
		case "40001": // serialization_failure
			return store.ErrConcurrencyConflict
		}
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
