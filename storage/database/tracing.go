package database

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanKey  = "otel:span"
	startKey = "otel:start_time"
	// 超长语句截断
	maxStatementLength = 500
)

// tracingPlugin 为每条 SQL 创建一个 client span，只记录语句模板不记录参数
type tracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

func newTracingPlugin(dbName string) *tracingPlugin {
	return &tracingPlugin{
		tracer: otel.Tracer("verifyflow.gorm"),
		dbName: dbName,
	}
}

func (p *tracingPlugin) Name() string {
	return "verifyflow:tracing"
}

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		before   func(name string, fn func(*gorm.DB)) error
		after    func(name string, fn func(*gorm.DB)) error
		operator string
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register, "INSERT"},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register, "SELECT"},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register, "UPDATE"},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register, "DELETE"},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register, "SELECT"},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register, ""},
	}

	for _, h := range hooks {
		if err := h.before("otel:before_"+h.name, p.before(h.operator)); err != nil {
			return err
		}
		if err := h.after("otel:after_"+h.name, p.after); err != nil {
			return err
		}
	}
	return nil
}

func (p *tracingPlugin) before(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		name := "db"
		if operation != "" {
			name = "db." + strings.ToLower(operation)
		}
		attrs := []attribute.KeyValue{
			semconv.DBSystemPostgreSQL,
			semconv.DBName(p.dbName),
		}
		if operation != "" {
			attrs = append(attrs, semconv.DBOperation(operation))
		}
		if db.Statement.Table != "" {
			attrs = append(attrs, semconv.DBSQLTable(db.Statement.Table))
		}

		ctx, span := p.tracer.Start(db.Statement.Context, name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		db.Statement.Context = ctx
		db.InstanceSet(spanKey, span)
		db.InstanceSet(startKey, time.Now())
	}
}

func (p *tracingPlugin) after(db *gorm.DB) {
	v, ok := db.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	stmt := db.Statement.SQL.String()
	if len(stmt) > maxStatementLength {
		stmt = stmt[:maxStatementLength] + "..."
	}
	span.SetAttributes(
		semconv.DBStatement(stmt),
		attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
	)
	if start, ok := db.InstanceGet(startKey); ok {
		if t, ok := start.(time.Time); ok {
			span.SetAttributes(attribute.Float64("db.duration_seconds", time.Since(t).Seconds()))
		}
	}

	switch {
	case db.Error == nil, db.Error == gorm.ErrRecordNotFound:
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
