package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// httpMetrics HTTP 层指标，InitMetrics 之前为 noop
type httpMetrics struct {
	requestTotal   metric.Int64Counter
	duration       metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

var httpm = mustHTTPMetrics(noop.NewMeterProvider().Meter("noop"))

// toValidUTF8 统一清洗用户可控字符串，防止非法 UTF-8 触发指标/trace 序列化失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	var (
		m   httpMetrics
		err error
	)

	m.requestTotal, err = meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, err
	}

	m.responseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("HTTP response size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func mustHTTPMetrics(meter metric.Meter) *httpMetrics {
	m, err := newHTTPMetrics(meter)
	if err != nil {
		panic(err)
	}
	return m
}

// InitMetrics 用真实的 meter 替换 noop 指标
func InitMetrics(meter metric.Meter) error {
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return err
	}
	httpm = m
	return nil
}

// OpenTelemetryMiddleware 为 hertztracing 创建的 server span 补充业务属性并记录 HTTP 指标
func OpenTelemetryMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		startTime := time.Now()
		m := httpm

		m.activeRequests.Add(ctx, 1)
		defer m.activeRequests.Add(ctx, -1)

		span := trace.SpanFromContext(ctx)
		if requestID := c.GetHeader("X-Request-Id"); len(requestID) > 0 {
			span.SetAttributes(attribute.String("http.request_id", toValidUTF8(string(requestID))))
		}

		c.Next(ctx)

		// 路由模板在匹配后才可用，避免把 provider_id 之类的路径参数写进指标
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := toValidUTF8(string(c.Method()))
		statusCode := c.Response.StatusCode()

		if providerID, ok := GetProviderID(ctx, c); ok {
			span.SetAttributes(attribute.String("enduser.id", toValidUTF8(providerID)))
		}
		if statusCode >= 500 {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(lastErr)
			}
			span.SetStatus(codes.Error, "HTTP error")
		}

		labels := metric.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(route),
			semconv.HTTPStatusCode(statusCode),
		)
		m.requestTotal.Add(ctx, 1, labels)
		m.duration.Record(ctx, time.Since(startTime).Seconds(), labels)
		if responseSize := int64(len(c.Response.Body())); responseSize > 0 {
			m.responseSize.Record(ctx, responseSize, labels)
		}
	}
}

// NewServerTracerConfig 创建 Hertz Server 的追踪配置
// 返回用于初始化 Hertz server 的配置选项和追踪中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}
