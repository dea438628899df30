package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// 业务错误类型，控制器统一映射为HTTP状态码
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAmbiguousBinding = errors.New("ambiguous match book binding, bind books explicitly")
	ErrPaymentGateway   = errors.New("payment gateway error")
	ErrTooManyRequests  = errors.New("too many requests")
)

// isDuplicateKey 判断是否为唯一约束冲突
// TranslateError 已开启时走 gorm.ErrDuplicatedKey，否则按驱动错误文本兜底
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
