package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"verifyflow/pkg/errors"
	"verifyflow/pkg/response"
	"verifyflow/pkg/token"
)

const (
	IdentityKey = token.IdentityKey
	roleKey     = "role"
)

var (
	authMiddleware *jwt.HertzJWTMiddleware
)

func initAuthMiddleware() error {
	// 使用 token 包中共享的生成器
	sharedGenerator := token.GetGenerator()
	if sharedGenerator == nil {
		return fmt.Errorf("token generator not initialized, call token.Init() first")
	}

	authMiddleware = &jwt.HertzJWTMiddleware{
		Realm:       "verifyflow API",
		Key:         sharedGenerator.Key,
		Timeout:     sharedGenerator.Timeout,
		MaxRefresh:  sharedGenerator.MaxRefresh,
		IdentityKey: sharedGenerator.IdentityKey,
		TimeFunc:    sharedGenerator.TimeFunc,

		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			uid := token.ClaimString(claims[IdentityKey])
			if uid == "" {
				return nil
			}
			c.Set(roleKey, token.ClaimString(claims[token.RoleKey]))
			return uid
		},

		// 没有 uid 的 token 视为未认证
		Authorizator: func(data interface{}, ctx context.Context, c *app.RequestContext) bool {
			uid, ok := data.(string)
			return ok && uid != ""
		},

		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(http.StatusUnauthorized, response.ErrorResponse{
				Error: response.ErrorDetail{
					Code:    errors.Unauthorized.Code,
					Message: message,
				},
			})
		},

		TokenLookup:   "header: Authorization, query: token",
		TokenHeadName: "Bearer",
	}

	return authMiddleware.MiddlewareInit()
}

func AuthMiddleware() app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return authMiddleware.MiddlewareFunc()
}

// ReviewerOnly 审核接口只对 reviewer 角色开放，需放在 AuthMiddleware 之后
func ReviewerOnly() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if c.GetString(roleKey) != token.RoleReviewer {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorResponse{
				Error: response.ErrorDetail{
					Code:    errors.Unauthorized.Code,
					Message: "reviewer role required",
				},
			})
			return
		}
		c.Next(ctx)
	}
}

// GetProviderID 从请求上下文中获取已认证的服务商 ID
func GetProviderID(ctx context.Context, c *app.RequestContext) (string, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return "", false
	}

	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
