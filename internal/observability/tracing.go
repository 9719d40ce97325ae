package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds sync engine metrics
type SyncMetrics struct {
	pushed       metric.Int64Counter
	pulled       metric.Int64Counter
	failed       metric.Int64Counter
	passDuration metric.Float64Histogram
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	pushed, err := meter.Int64Counter(
		"pilotlog.sync.pushed",
		metric.WithDescription("Queue items acknowledged by the remote authority"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	pulled, err := meter.Int64Counter(
		"pilotlog.sync.pulled",
		metric.WithDescription("Remote changes applied locally"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"pilotlog.sync.failed",
		metric.WithDescription("Queue items that failed transmission"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"pilotlog.sync.pass.duration",
		metric.WithDescription("Duration of a full sync pass in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		pushed:       pushed,
		pulled:       pulled,
		failed:       failed,
		passDuration: passDuration,
	}, nil
}

// RecordPass records the outcome of one sync pass
func (m *SyncMetrics) RecordPass(ctx context.Context, pushed, pulled, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.pushed.Add(ctx, int64(pushed))
	m.pulled.Add(ctx, int64(pulled))
	m.failed.Add(ctx, int64(failed))
	m.passDuration.Record(ctx, float64(duration.Milliseconds()))
}

// Collection builds the collection attribute for metrics and spans
func Collection(name string) attribute.KeyValue {
	return attribute.String("collection", name)
}

// RecordItemFailure counts a single failed queue item with its collection
func (m *SyncMetrics) RecordItemFailure(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(Collection(collection)))
}

// TraceDB wraps sql.DB with tracing for read paths outside a transaction
type TraceDB struct {
	db *sql.DB
}

// NewTraceDB creates a traced database wrapper
func NewTraceDB(db *sql.DB) *TraceDB {
	return &TraceDB{db: db}
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := StartSpan(ctx, "DB Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", time.Since(start).Milliseconds()))

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := StartSpan(ctx, "DB Exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", time.Since(start).Milliseconds()))

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := StartSpan(ctx, "DB QueryRow",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	// span.End() before scanning; sql.Row gives no completion hook

	row := t.db.QueryRowContext(ctx, query, args...)
	span.End()
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}
