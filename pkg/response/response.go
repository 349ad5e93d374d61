package response

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"verifyflow/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusFor 错误码到 HTTP 状态码
func StatusFor(err error) int {
	def, ok := errors.AsDefinition(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.ValidationFailed.Code, errors.InvalidStep.Code,
		errors.UnknownRoute.Code, errors.InvalidRequest.Code,
		errors.InvalidProviderID.Code:
		return http.StatusBadRequest // 400
	case errors.Unauthorized.Code, errors.InvalidToken.Code:
		return http.StatusUnauthorized // 401
	case errors.ProgressNotFound.Code:
		return http.StatusNotFound // 404
	case errors.StatusTransitionInvalid.Code, errors.SessionConflict.Code:
		return http.StatusConflict // 409
	case errors.TooManyRequests.Code:
		return http.StatusTooManyRequests // 429
	case errors.StoreUnavailable.Code, errors.CacheUnavailable.Code:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// detailer 可以输出字段级错误的类型，例如 ValidationError
type detailer interface {
	Details() map[string]interface{}
}

// Error 返回错误响应；Definition 以外的错误不把内部信息暴露给调用方
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	statusCode := StatusFor(err)

	def, ok := errors.AsDefinition(err)
	if !ok {
		def = errors.Internal
	}

	var d detailer
	if details == nil && stderrors.As(err, &d) {
		details = d.Details()
	}

	_ = c.Error(err)
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    def.Code,
			Message: def.Message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}
