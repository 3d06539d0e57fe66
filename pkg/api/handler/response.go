package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// 错误类型，作为响应体中error字段的取值
const (
	ErrKindValidation  = "VALIDATION_ERROR"
	ErrKindConflict    = "CONFLICT"
	ErrKindNotFound    = "NOT_FOUND"
	ErrKindUnavailable = "UNAVAILABLE"
	ErrKindInternal    = "INTERNAL_ERROR"
	ErrKindRateLimited = "RATE_LIMITED"
)

// ServiceResponse 统一响应结构
type ServiceResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// success 返回成功响应
func success(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, ServiceResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// failure 返回错误响应
func failure(c echo.Context, code int, kind, message string, details any) error {
	return c.JSON(code, ServiceResponse{
		Code:    code,
		Message: message,
		Error:   kind,
		Details: details,
	})
}

// badRequest 返回参数错误响应
func badRequest(c echo.Context, message string, details any) error {
	return failure(c, http.StatusBadRequest, ErrKindValidation, message, details)
}
