package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/celebrum-trends/internal/logging"
	"github.com/irfndi/celebrum-trends/internal/telemetry"
)

const tracerName = "github.com/irfndi/celebrum-trends/internal/database"

// TracedDB wraps a querier with a span and a debug log line per statement.
type TracedDB struct {
	next   PriceHistoryQuerier
	tracer trace.Tracer
	logger *logrus.Logger
	events logging.Logger
}

// NewTracedDB wraps next. A nil logger uses the logrus standard logger.
func NewTracedDB(next PriceHistoryQuerier, logger *logrus.Logger) *TracedDB {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TracedDB{next: next, tracer: telemetry.Tracer(tracerName), logger: logger}
}

// WithEvents also reports successful statements through events.
func (db *TracedDB) WithEvents(events logging.Logger) *TracedDB {
	db.events = events
	return db
}

func (db *TracedDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.query(ctx, db.next.Query, sql, args...)
}

func (db *TracedDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.exec(ctx, db.next.Exec, sql, args...)
}

func (db *TracedDB) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	return db.copyFrom(ctx, db.next.CopyFrom, table, columns, src)
}

// Begin starts a transaction whose statements are traced like the pool's.
func (db *TracedDB) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := db.start(ctx, "db.begin", "BEGIN")
	defer span.End()

	start := time.Now()
	tx, err := db.next.Begin(ctx)
	db.finish(span, "begin", "BEGIN", start, -1, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, db: db}, nil
}

// TracedTx wraps a transaction so its statements get spans and logs.
type TracedTx struct {
	pgx.Tx
	db *TracedDB
}

func (tx *TracedTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.db.query(ctx, tx.Tx.Query, sql, args...)
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.db.exec(ctx, tx.Tx.Exec, sql, args...)
}

func (tx *TracedTx) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	return tx.db.copyFrom(ctx, tx.Tx.CopyFrom, table, columns, src)
}

func (tx *TracedTx) Commit(ctx context.Context) error {
	ctx, span := tx.db.start(ctx, "db.commit", "COMMIT")
	defer span.End()

	start := time.Now()
	err := tx.Tx.Commit(ctx)
	tx.db.finish(span, "commit", "COMMIT", start, -1, err)
	return err
}

type queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

type execFunc func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

type copyFunc func(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)

func (db *TracedDB) query(ctx context.Context, fn queryFunc, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "db.query", sql)
	defer span.End()

	start := time.Now()
	rows, err := fn(ctx, sql, args...)
	db.finish(span, "query", sql, start, -1, err)
	return rows, err
}

func (db *TracedDB) exec(ctx context.Context, fn execFunc, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "db.exec", sql)
	defer span.End()

	start := time.Now()
	tag, err := fn(ctx, sql, args...)
	db.finish(span, "exec", sql, start, tag.RowsAffected(), err)
	return tag, err
}

func (db *TracedDB) copyFrom(ctx context.Context, fn copyFunc, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	ctx, span := db.start(ctx, "db.copy_from", table.Sanitize())
	defer span.End()

	start := time.Now()
	n, err := fn(ctx, table, columns, src)
	db.finish(span, "copy_from", table.Sanitize(), start, n, err)
	return n, err
}

func (db *TracedDB) start(ctx context.Context, name, statement string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", statement),
		))
}

func (db *TracedDB) finish(span trace.Span, op, statement string, start time.Time, rows int64, err error) {
	duration := time.Since(start)
	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	fields := logrus.Fields{
		"operation":   op,
		"statement":   statement,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		db.logger.WithFields(fields).WithError(err).Warn("Database operation failed")
		return
	}
	if db.events != nil {
		db.events.LogDatabaseOperation(op, PriceHistoryTable, duration.Milliseconds(), max(rows, 0))
		return
	}
	db.logger.WithFields(fields).Debug("Database operation")
}
