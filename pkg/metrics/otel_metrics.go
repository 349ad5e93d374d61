package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// VerificationMetrics 认证流程相关指标，nil 接收者上调用不做任何事
type VerificationMetrics struct {
	StepCompletionsTotal     metric.Int64Counter
	StepCompletionDuration   metric.Float64Histogram
	OptimisticRollbacksTotal metric.Int64Counter
	StoreRetriesTotal        metric.Int64Counter
	ReconcileCorrections     metric.Int64Counter
	CacheLookupsTotal        metric.Int64Counter
	InvalidationsTotal       metric.Int64Counter
	StatusTransitionsTotal   metric.Int64Counter
}

var (
	// 全局指标实例
	metrics *VerificationMetrics
	// meter 用于创建指标
	meter = otel.Meter("verifyflow")
)

// InitMetrics 使用全局 MeterProvider 初始化指标
func InitMetrics() error {
	m, err := New(meter)
	if err != nil {
		return err
	}
	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例，未初始化时为 nil
func GetMetrics() *VerificationMetrics {
	return metrics
}

// New 在给定 meter 上创建全部指标
func New(meter metric.Meter) (*VerificationMetrics, error) {
	var err error
	m := &VerificationMetrics{}

	m.StepCompletionsTotal, err = meter.Int64Counter(
		"verification_step_completions_total",
		metric.WithDescription("Total number of step completion requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.StepCompletionDuration, err = meter.Float64Histogram(
		"verification_step_completion_duration_seconds",
		metric.WithDescription("Time spent completing a verification step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.OptimisticRollbacksTotal, err = meter.Int64Counter(
		"verification_optimistic_rollbacks_total",
		metric.WithDescription("Total number of optimistic cache rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreRetriesTotal, err = meter.Int64Counter(
		"verification_store_retries_total",
		metric.WithDescription("Total number of retried progress store writes"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconcileCorrections, err = meter.Int64Counter(
		"verification_reconcile_corrections_total",
		metric.WithDescription("Total number of step flags corrected by reconciliation"),
		metric.WithUnit("{flag}"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheLookupsTotal, err = meter.Int64Counter(
		"verification_cache_lookups_total",
		metric.WithDescription("Progress view cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	m.InvalidationsTotal, err = meter.Int64Counter(
		"verification_invalidations_total",
		metric.WithDescription("Progress change notifications by direction"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	m.StatusTransitionsTotal, err = meter.Int64Counter(
		"verification_status_transitions_total",
		metric.WithDescription("Verification status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStepCompletion 记录一次步骤完成请求
func (m *VerificationMetrics) RecordStepCompletion(ctx context.Context, step int, outcome string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("step", strconv.Itoa(step)),
		attribute.String("outcome", outcome),
	)
	m.StepCompletionsTotal.Add(ctx, 1, attrs)
	m.StepCompletionDuration.Record(ctx, duration, attrs)
}

// RecordRollback 记录乐观视图回滚
func (m *VerificationMetrics) RecordRollback(ctx context.Context, step int) {
	if m == nil {
		return
	}
	m.OptimisticRollbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", strconv.Itoa(step)),
	))
}

// RecordStoreRetry 记录存储写入重试
func (m *VerificationMetrics) RecordStoreRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordReconcileCorrections 记录对账修正的标记数
func (m *VerificationMetrics) RecordReconcileCorrections(ctx context.Context, trigger string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.ReconcileCorrections.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("trigger", trigger),
	))
}

// RecordCacheLookup 记录缓存命中或未命中
func (m *VerificationMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordInvalidation direction 为 published 或 consumed
func (m *VerificationMetrics) RecordInvalidation(ctx context.Context, direction, table string) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("table", table),
	))
}

// RecordStatusTransition 记录状态迁移
func (m *VerificationMetrics) RecordStatusTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
