package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"verifyflow/pkg/errors"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/response"
)

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 是否记录调用栈
	EnableStackTrace bool
	// 是否把 panic 详情返回给调用方，生产环境关闭
	ExposeDetails bool
	// 是否在 span 中记录异常
	RecordInSpan bool
}

// NewRecoverConfig isProduction 为 true 时不暴露详情
func NewRecoverConfig(isProduction bool) RecoverConfig {
	return RecoverConfig{
		EnableStackTrace: true,
		ExposeDetails:    !isProduction,
		RecordInSpan:     true,
	}
}

// RecoverMiddleware 捕获 handler 中的 panic，返回 500
func RecoverMiddleware(config RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err, config)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}, config RecoverConfig) {
	var stack string
	if config.EnableStackTrace {
		stack = getStackTrace(4)
	}

	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
	}
	if requestID := string(c.GetHeader("X-Request-ID")); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if providerID, ok := GetProviderID(ctx, c); ok {
		fields = append(fields, zap.String("provider_id", providerID))
	}
	if stack != "" {
		fields = append(fields, zap.String("stack", stack))
	}
	logger.Logger.Error("[PANIC RECOVERED]", fields...)

	if config.RecordInSpan {
		span := trace.SpanFromContext(ctx)
		span.RecordError(fmt.Errorf("panic: %v", err))
		span.SetStatus(codes.Error, "panic recovered")
	}

	var details map[string]interface{}
	if config.ExposeDetails {
		details = map[string]interface{}{
			"panic":     fmt.Sprintf("%v", err),
			"timestamp": time.Now().Format(time.RFC3339),
		}
		if stack != "" {
			details["stack"] = stack
		}
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    errors.Internal.Code,
			Message: errors.Internal.Message,
			Details: details,
		},
	})
}

// getStackTrace 当前 goroutine 的调用栈，跳过 runtime 内部帧
func getStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/runtime/") {
			continue
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		fmt.Fprintf(&sb, "  %s:%d\n    %s\n", file, line, fn.Name())
	}
	return sb.String()
}
