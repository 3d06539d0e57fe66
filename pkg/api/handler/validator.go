package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CustomValidator 基于go-playground/validator实现echo.Validator
type CustomValidator struct {
	validate *validator.Validate
}

// NewValidator 创建请求校验器，错误中的字段名使用json标签
func NewValidator() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validate: v}
}

// Validate 实现echo.Validator接口
func (cv *CustomValidator) Validate(i any) error {
	return cv.validate.Struct(i)
}

// FieldError 字段级校验错误
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value any    `json:"value,omitempty"`
}

// validationDetails 将校验错误转换为字段级错误列表，不是校验错误时返回nil
func validationDetails(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}

	details := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		detail := FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
		}
		if fe.Tag() != "required" {
			detail.Value = fe.Value()
		}
		details = append(details, detail)
	}
	return details
}
