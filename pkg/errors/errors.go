package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

func (d Definition) Error() string {
	return d.Message
}

// Is 按错误码比较，便于带自定义 Message 的 Definition 也能被 errors.Is 识别
func (d Definition) Is(target error) bool {
	t, ok := target.(Definition)
	if !ok {
		return false
	}
	return d.Code == t.Code
}

// WithMessage 返回同错误码、不同提示信息的 Definition。
func (d Definition) WithMessage(format string, args ...interface{}) Definition {
	return Definition{Code: d.Code, Message: fmt.Sprintf(format, args...)}
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 认证相关错误。
var (
	Unauthorized      = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidProviderID = Definition{Code: "INVALID_PROVIDER_ID", Message: "Invalid provider ID"}
	InvalidToken      = Definition{Code: "INVALID_TOKEN", Message: "Invalid token"}
)

// 认证流程错误。
var (
	InvalidStep             = Definition{Code: "INVALID_STEP", Message: "Verification step out of range"}
	UnknownRoute            = Definition{Code: "UNKNOWN_ROUTE", Message: "Unknown verification route"}
	ValidationFailed        = Definition{Code: "VALIDATION_FAILED", Message: "Step data failed validation"}
	StatusTransitionInvalid = Definition{Code: "STATUS_TRANSITION_INVALID", Message: "Verification status transition not allowed"}
	ProgressNotFound        = Definition{Code: "PROGRESS_NOT_FOUND", Message: "Verification progress not found"}
	SessionConflict         = Definition{Code: "SESSION_CONFLICT", Message: "Verification session active on another device"}
)

// 存储层错误。
var (
	StoreUnavailable = Definition{Code: "STORE_UNAVAILABLE", Message: "Progress store temporarily unavailable"}
	CacheUnavailable = Definition{Code: "CACHE_UNAVAILABLE", Message: "Progress cache unavailable"}
)

// 通用错误。
var (
	InvalidRequest  = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	TooManyRequests = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
	Internal        = Definition{Code: "INTERNAL_ERROR", Message: "Internal error"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	Unauthorized.Code:            Unauthorized,
	InvalidProviderID.Code:       InvalidProviderID,
	InvalidToken.Code:            InvalidToken,
	InvalidStep.Code:             InvalidStep,
	UnknownRoute.Code:            UnknownRoute,
	ValidationFailed.Code:        ValidationFailed,
	StatusTransitionInvalid.Code: StatusTransitionInvalid,
	ProgressNotFound.Code:        ProgressNotFound,
	SessionConflict.Code:         SessionConflict,
	StoreUnavailable.Code:        StoreUnavailable,
	CacheUnavailable.Code:        CacheUnavailable,
	InvalidRequest.Code:          InvalidRequest,
	TooManyRequests.Code:         TooManyRequests,
	Internal.Code:                Internal,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// ValidationError 本地校验失败，Fields 为字段 -> 原因
type ValidationError struct {
	Fields map[string]string
	Step   int
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("step %d: %s", e.Step, ValidationFailed.Message)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("step %d: %s (%s)", e.Step, ValidationFailed.Message, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ValidationFailed
}

// Details 供 response 层输出字段级错误
func (e *ValidationError) Details() map[string]interface{} {
	details := make(map[string]interface{}, len(e.Fields)+1)
	details["step"] = e.Step
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	details["fields"] = fields
	return details
}

// Transient 将底层错误标记为可重试的存储错误
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, StoreUnavailable, err)
}

// IsTransient 判断错误是否可以重试
func IsTransient(err error) bool {
	return stderrors.Is(err, StoreUnavailable)
}

// AsDefinition 取出错误链中的 Definition，找不到时返回 Internal
func AsDefinition(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return Internal, false
}
