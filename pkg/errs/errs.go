// Package errs 定义服务的错误分类，基于 cockroachdb/errors 的标记机制.
//
// 构造出的错误都带有分类标记，经过任意层 errors.Wrap 之后仍可用 errors.Is 判断:
//
//	err := errs.Validation("part number %d out of range", n)
//	errors.Is(errors.Wrap(err, "authorize"), errs.ErrValidation) // true
//
// 判断需使用 github.com/cockroachdb/errors 的 Is，标准库的 errors.Is 看不到标记.
package errs

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// 错误分类.
var (
	ErrValidation          = errors.New("validation error")
	ErrIncompleteUpload    = errors.New("upload incomplete")
	ErrSessionExpired      = errors.New("upload session expired")
	ErrExternalCapability  = errors.New("external capability error")
	ErrConsistencyConflict = errors.New("consistency conflict")
	ErrNotFound            = errors.New("not found")
	ErrLeaseLost           = errors.New("lease lost")
	ErrConflict            = errors.New("conflict")
)

// ErrUploadIncomplete 与 ErrIncompleteUpload 相同.
var ErrUploadIncomplete = ErrIncompleteUpload

// 稳定的错误码，用于 HTTP 响应与任务错误记录.
const (
	CodeValidation          = "validation_error"
	CodeIncompleteUpload    = "incomplete_upload"
	CodeSessionExpired      = "session_expired"
	CodeExternalCapability  = "external_capability_error"
	CodeConsistencyConflict = "consistency_conflict"
	CodeNotFound            = "not_found"
	CodeLeaseLost           = "lease_lost"
	CodeConflict            = "conflict"
	CodeInternal            = "internal"
)

type kind struct {
	mark   error
	code   string
	status int
}

// 顺序即优先级，一个错误同时带多个标记时取第一个.
var kinds = []kind{
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrIncompleteUpload, CodeIncompleteUpload, http.StatusConflict},
	{ErrSessionExpired, CodeSessionExpired, http.StatusGone},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrLeaseLost, CodeLeaseLost, http.StatusConflict},
	{ErrConsistencyConflict, CodeConsistencyConflict, http.StatusConflict},
	{ErrConflict, CodeConflict, http.StatusConflict},
	{ErrExternalCapability, CodeExternalCapability, http.StatusBadGateway},
}

func newf(mark error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), mark)
}

func wrapf(mark, err error, format string, args ...any) error {
	if err == nil {
		return newf(mark, format, args...)
	}

	return errors.Mark(errors.Wrapf(err, format, args...), mark)
}

// Validation 输入不合法.
func Validation(format string, args ...any) error {
	return newf(ErrValidation, format, args...)
}

// IncompleteUpload 分片缺失、重复之外的完整性问题.
func IncompleteUpload(format string, args ...any) error {
	return newf(ErrIncompleteUpload, format, args...)
}

// SessionExpired 上传会话已过期.
func SessionExpired(format string, args ...any) error {
	return newf(ErrSessionExpired, format, args...)
}

// NotFound 资源不存在.
func NotFound(format string, args ...any) error {
	return newf(ErrNotFound, format, args...)
}

// Conflict 状态不允许该操作.
func Conflict(format string, args ...any) error {
	return newf(ErrConflict, format, args...)
}

// LeaseLost 租约已失效或被其他 worker 取得.
func LeaseLost(format string, args ...any) error {
	return newf(ErrLeaseLost, format, args...)
}

// External 包装外部依赖（向量化、对象存储、索引）失败，err 可为 nil.
func External(err error, format string, args ...any) error {
	return wrapf(ErrExternalCapability, err, format, args...)
}

// ConsistencyConflict 包装乐观并发冲突或唯一约束冲突，err 可为 nil.
func ConsistencyConflict(err error, format string, args ...any) error {
	return wrapf(ErrConsistencyConflict, err, format, args...)
}

// Kind 返回错误码，未分类的错误为 CodeInternal.
func Kind(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}

	return CodeInternal
}

// HTTPStatus 返回错误对应的 HTTP 状态码.
func HTTPStatus(err error) int {
	if k, ok := lookup(err); ok {
		return k.status
	}

	return http.StatusInternalServerError
}

// Retryable 外部能力失败与一致性冲突可以重试，其余错误重试也不会改变结果.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalCapability) || errors.Is(err, ErrConsistencyConflict)
}

func lookup(err error) (kind, bool) {
	if err == nil {
		return kind{}, false
	}

	for _, k := range kinds {
		if errors.Is(err, k.mark) {
			return k, true
		}
	}

	return kind{}, false
}
