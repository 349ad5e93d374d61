package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"verifyflow/internal/handler"
	"verifyflow/internal/middleware"
	"verifyflow/internal/service"
)

// Options 路由依赖，由 cmd/server 组装
type Options struct {
	Service *service.VerificationService
	// Recover 为 nil 时使用开发环境配置
	Recover *middleware.RecoverConfig
	// ReadLimit/WriteLimit 为 nil 时不限流
	ReadLimit  *middleware.RateLimiter
	WriteLimit *middleware.RateLimiter
	// Auth 为 nil 时使用 JWT 中间件
	Auth           app.HandlerFunc
	AllowedOrigins []string
}

func limit(rl *middleware.RateLimiter) app.HandlerFunc {
	if rl == nil {
		return middleware.Noop()
	}
	return middleware.RateLimitMiddleware(rl)
}

func Register(h *server.Hertz, opts Options) {
	recoverCfg := middleware.NewRecoverConfig(false)
	if opts.Recover != nil {
		recoverCfg = *opts.Recover
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.AuthMiddleware()
	}

	h.Use(middleware.RecoverMiddleware(recoverCfg))
	h.Use(middleware.CORSMiddleware(opts.AllowedOrigins))
	h.Use(middleware.OpenTelemetryMiddleware())

	vh := handler.NewVerificationHandler(opts.Service)
	rh := handler.NewReviewHandler(opts.Service)

	v1 := h.Group("/v1")

	// 服务商认证流程
	verification := v1.Group("/verification", auth)
	{
		verification.GET("/progress", limit(opts.ReadLimit), vh.GetProgress)
		verification.GET("/resume", limit(opts.ReadLimit), vh.Resume)

		verification.POST("/steps/:step/complete", limit(opts.WriteLimit), vh.CompleteStep)
		verification.POST("/resubmit", limit(opts.WriteLimit), vh.Resubmit)
		verification.POST("/reconcile", limit(opts.WriteLimit), vh.Reconcile)
		verification.POST("/conflict/resolve", limit(opts.WriteLimit), vh.ResolveConflict)

		nav := verification.Group("/navigation")
		{
			nav.GET("/next", vh.NavigateNext)
			nav.GET("/back", vh.NavigateBack)
			nav.GET("/step/:step", vh.NavigateToStep)
		}
	}

	// 审核人员
	admin := v1.Group("/admin/providers/:provider_id", auth, middleware.ReviewerOnly())
	{
		admin.POST("/review", rh.StartReview)
		admin.POST("/approve", rh.Approve)
		admin.POST("/reject", rh.Reject)
		admin.POST("/reconcile", rh.Reconcile)
	}
}
