package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hewenyu/discovery-gateway/pkg/model"
)

// ServiceStorage 定义服务实例存储接口
//
// 返回的bool表示目标记录是否存在（或是否插入成功），error仅用于存储后端故障，
// 记录不存在或已存在不会以error的形式返回。
type ServiceStorage interface {
	// Register 插入服务实例，ID已存在时返回false且不做任何修改
	Register(ctx context.Context, record *model.ServiceRecord) (bool, error)

	// Unregister 删除服务实例
	Unregister(ctx context.Context, serviceID string) (bool, error)

	// Get 获取服务实例副本
	Get(ctx context.Context, serviceID string) (*model.ServiceRecord, bool, error)

	// List 按注册顺序返回所有服务实例
	List(ctx context.Context) ([]*model.ServiceRecord, error)

	// ListActive 按注册顺序返回所有活跃服务实例
	ListActive(ctx context.Context) ([]*model.ServiceRecord, error)

	// ListByName 按注册顺序返回指定名称的服务实例，包括非活跃实例
	ListByName(ctx context.Context, serviceName string) ([]*model.ServiceRecord, error)

	// Heartbeat 将心跳时间更新为now并重新激活服务实例
	Heartbeat(ctx context.Context, serviceID string, now time.Time) (bool, error)

	// Deactivate 将服务实例标记为非活跃
	Deactivate(ctx context.Context, serviceID string) (bool, error)

	// Sweep 将最后心跳早于cutoff的实例标记为非活跃，返回所有过期实例ID（包括已经是非活跃的）
	Sweep(ctx context.Context, cutoff time.Time) ([]string, error)

	// Close 释放存储资源
	Close() error
}

// StorageError 定义存储操作可能返回的错误类型
type StorageError struct {
	Code    int
	Message string
	Err     error
}

// Error 实现error接口
func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *StorageError) Unwrap() error {
	return e.Err
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrAlreadyExists 资源已存在
	ErrAlreadyExists
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StorageError {
	return &StorageError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建资源已存在错误
func NewAlreadyExistsError(message string) *StorageError {
	return &StorageError{
		Code:    ErrAlreadyExists,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StorageError {
	return &StorageError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string, err error) *StorageError {
	return &StorageError{
		Code:    ErrInternal,
		Message: message,
		Err:     err,
	}
}

// ErrorCode 返回err链中StorageError的错误码，不是StorageError时返回ErrInternal
func ErrorCode(err error) int {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrInternal
}

// IsNotFound 判断错误是否为资源不存在
func IsNotFound(err error) bool {
	return err != nil && ErrorCode(err) == ErrNotFound
}

// IsAlreadyExists 判断错误是否为资源已存在
func IsAlreadyExists(err error) bool {
	return err != nil && ErrorCode(err) == ErrAlreadyExists
}
