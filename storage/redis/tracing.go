package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"verifyflow/config"
)

// tracingHook 为每条命令和每个 pipeline 创建一个 client span
type tracingHook struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

func newTracingHook() *tracingHook {
	return &tracingHook{
		tracer: otel.Tracer(config.Cfg.ServiceName + ".redis"),
		attrs: []attribute.KeyValue{
			semconv.DBSystemRedis,
			semconv.DBRedisDBIndex(config.Cfg.RedisDB),
		},
	}
}

func (h *tracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *tracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "redis."+strings.ToLower(cmd.Name()),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(h.attrs...),
		)
		defer span.End()

		span.SetAttributes(semconv.DBOperation(cmd.Name()))
		if key := firstKey(cmd.Args()); key != "" {
			span.SetAttributes(attribute.String("redis.key", key))
		}

		err := next(ctx, cmd)
		recordStatus(span, err)
		return err
	}
}

func (h *tracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(h.attrs...),
		)
		defer span.End()

		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		span.SetAttributes(
			attribute.Int("redis.pipeline.count", len(cmds)),
			attribute.String("redis.pipeline.commands", strings.Join(names, ",")),
		)

		err := next(ctx, cmds)
		recordStatus(span, err)
		return err
	}
}

func recordStatus(span trace.Span, err error) {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
}

// firstKey 只记录键名，不记录值
func firstKey(args []interface{}) string {
	if len(args) < 2 {
		return ""
	}
	key, ok := args[1].(string)
	if !ok {
		return ""
	}
	if len(key) > 100 {
		return key[:100]
	}
	return key
}
