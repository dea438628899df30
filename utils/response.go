package utils

import (
	"errors"
	"net/http"

	"bookswap_go/logger"
	"bookswap_go/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`            // 业务状态码
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据
	Error   string      `json:"error,omitempty"` // 错误信息
}

// PageResponse 分页响应结构
type PageResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Total   int64       `json:"total"` // 总数
	Page    int         `json:"page"`  // 当前页
	Limit   int         `json:"limit"` // 每页数量
}

// 业务状态码常量
const (
	CodeSuccess             = 20000 // 成功
	CodeCreated             = 20100 // 已创建
	CodeError               = 40000 // 请求错误
	CodeUnauthorized        = 40100 // 未授权
	CodeForbidden           = 40300 // 禁止访问
	CodeNotFound            = 40400 // 资源不存在
	CodeConflict            = 40900 // 状态冲突
	CodeAmbiguousBinding    = 40901 // 匹配书籍需要手动绑定
	CodeValidationError     = 42200 // 验证错误
	CodeTooManyRequests     = 42900 // 请求过于频繁
	CodeInternalServerError = 50000 // 内部错误
	CodeBadGateway          = 50200 // 支付网关错误
)

// 业务状态码对应的消息
var codeMessages = map[int]string{
	CodeSuccess:             "操作成功",
	CodeCreated:             "创建成功",
	CodeError:               "请求参数错误",
	CodeUnauthorized:        "未授权，请重新登录",
	CodeForbidden:           "禁止访问",
	CodeNotFound:            "资源不存在",
	CodeConflict:            "资源状态冲突",
	CodeAmbiguousBinding:    "无法自动确定交换书籍，请手动选择",
	CodeValidationError:     "参数验证失败",
	CodeTooManyRequests:     "请求过于频繁，请稍后再试",
	CodeInternalServerError: "internal server error",
	CodeBadGateway:          "支付服务暂不可用",
}

// GetCodeMessage 获取状态码对应的消息
func GetCodeMessage(code int) string {
	if msg, exists := codeMessages[code]; exists {
		return msg
	}
	return "未知错误"
}

func respond(c *gin.Context, status, code int, message string, data interface{}) {
	if message == "" {
		message = GetCodeMessage(code)
	}
	c.JSON(status, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, CodeSuccess, "", data)
}

// SuccessWithMessage 带消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, CodeSuccess, message, data)
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	respond(c, http.StatusCreated, CodeCreated, "", data)
}

// Error 错误响应（HTTP 400）
func Error(c *gin.Context, code int, message string) {
	respond(c, http.StatusBadRequest, code, message, nil)
}

// BadRequest 请求参数错误
func BadRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, CodeError, message, nil)
}

// ValidationFailed 参数校验失败，附带字段错误
func ValidationFailed(c *gin.Context, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, Response{
			Code:    CodeValidationError,
			Message: GetCodeMessage(CodeValidationError),
			Data:    ve.Errors,
		})
		return
	}
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeValidationError,
		Message: GetCodeMessage(CodeValidationError),
		Error:   err.Error(),
	})
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	respond(c, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	respond(c, http.StatusForbidden, CodeForbidden, message, nil)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, CodeNotFound, message, nil)
}

// Conflict 状态冲突响应
func Conflict(c *gin.Context, message string) {
	respond(c, http.StatusConflict, CodeConflict, message, nil)
}

// TooManyRequests 限流响应
func TooManyRequests(c *gin.Context, message string) {
	respond(c, http.StatusTooManyRequests, CodeTooManyRequests, message, nil)
}

// InternalError 内部错误响应，不向客户端暴露错误细节
func InternalError(c *gin.Context) {
	respond(c, http.StatusInternalServerError, CodeInternalServerError, "", nil)
}

// Paginate 分页响应
func Paginate(c *gin.Context, data interface{}, total int64, page, limit int) {
	c.JSON(http.StatusOK, PageResponse{
		Code:    CodeSuccess,
		Message: GetCodeMessage(CodeSuccess),
		Data:    data,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// serviceErrorKinds 业务错误到HTTP状态码和业务码的映射，按顺序匹配
var serviceErrorKinds = []struct {
	err    error
	status int
	code   int
	opaque bool
}{
	{services.ErrNotFound, http.StatusNotFound, CodeNotFound, false},
	{services.ErrForbidden, http.StatusForbidden, CodeForbidden, false},
	{services.ErrAmbiguousBinding, http.StatusConflict, CodeAmbiguousBinding, false},
	{services.ErrConflict, http.StatusConflict, CodeConflict, false},
	{services.ErrInvalidInput, http.StatusBadRequest, CodeError, false},
	{services.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, false},
	{services.ErrTooManyRequests, http.StatusTooManyRequests, CodeTooManyRequests, false},
	{services.ErrPaymentGateway, http.StatusBadGateway, CodeBadGateway, true},
}

// HandleServiceError 将服务层错误统一转换为HTTP响应
// 未识别的错误记录日志并返回固定消息
func HandleServiceError(c *gin.Context, err error) {
	for _, kind := range serviceErrorKinds {
		if !errors.Is(err, kind.err) {
			continue
		}
		message := err.Error()
		if kind.opaque {
			// 网关错误只记录日志
			logger.L().Warn("payment gateway error",
				zap.String("request_id", c.GetString("request_id")), zap.Error(err))
			message = ""
		}
		respond(c, kind.status, kind.code, message, nil)
		return
	}

	_ = c.Error(err)
	logger.L().Error("unhandled service error",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err),
	)
	InternalError(c)
}
