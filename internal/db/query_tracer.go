package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxTracedQueryLength = 512

type tracedQueryKey struct{}

type tracedQuery struct {
	span      *sentry.Span
	statement statement
	started   time.Time
}

// queryTracer turns each pgx query into a Sentry child span when the caller
// is already traced, and records query latency and failures as metrics.
type queryTracer struct{}

func newQueryTracer() *queryTracer {
	return &queryTracer{}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q := &tracedQuery{statement: describeStatement(data.SQL), started: time.Now()}

	if sentry.SpanFromContext(ctx) != nil {
		q.span = sentry.StartSpan(
			ctx,
			"db.query",
			sentry.WithDescription(q.statement.text),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		q.span.SetData("db.system", "postgresql")
		if q.statement.operation != "" {
			q.span.SetData("db.operation", q.statement.operation)
		}
		if q.statement.table != "" {
			q.span.SetData("db.sql.table", q.statement.table)
		}
		ctx = q.span.Context()
	}

	return context.WithValue(ctx, tracedQueryKey{}, q)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	q, _ := ctx.Value(tracedQueryKey{}).(*tracedQuery)
	if q == nil {
		return
	}

	attrs := []attribute.Builder{
		attribute.String("db.operation", q.statement.operationLabel()),
		attribute.String("db.sql.table", q.statement.tableLabel()),
	}
	meter := sentry.NewMeter(ctx).WithCtx(ctx)
	meter.Distribution(
		"db.query.duration",
		float64(time.Since(q.started).Milliseconds()),
		sentry.WithUnit(sentry.UnitMillisecond),
		sentry.WithAttributes(attrs...),
	)
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		meter.Count("db.query.errors", 1, sentry.WithAttributes(
			append(attrs, attribute.String("db.error_code", pgErrorCode(data.Err)))...,
		))
	}

	if q.span == nil {
		return
	}
	if data.Err != nil {
		q.span.Status = sentry.SpanStatusInternalError
		q.span.SetData("db.error", data.Err.Error())
	} else {
		q.span.Status = sentry.SpanStatusOK
	}
	if rows := data.CommandTag.RowsAffected(); rows >= 0 {
		q.span.SetData("db.rows_affected", rows)
	}
	q.span.Finish()
}

type statement struct {
	text      string
	operation string
	table     string
}

func (s statement) operationLabel() string {
	if s.operation == "" {
		return "unknown"
	}
	return s.operation
}

func (s statement) tableLabel() string {
	if s.table == "" {
		return "unknown"
	}
	return s.table
}

// describeStatement collapses whitespace and picks out the leading keyword
// and the first table the statement touches.
func describeStatement(sql string) statement {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return statement{text: "sql.query"}
	}

	text := strings.Join(fields, " ")
	if len(text) > maxTracedQueryLength {
		text = text[:maxTracedQueryLength]
	}

	s := statement{text: text, operation: strings.ToUpper(fields[0])}
	var marker string
	switch s.operation {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		s.table = tableName(fields, 1)
		return s
	default:
		return s
	}
	for i, field := range fields {
		if strings.EqualFold(field, marker) {
			s.table = tableName(fields, i+1)
			break
		}
	}
	return s
}

func tableName(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	name, _, _ := strings.Cut(fields[i], "(")
	return strings.ToLower(strings.TrimRight(name, ",;"))
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "none"
}
