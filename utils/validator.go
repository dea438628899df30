package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"bookswap_go/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
	isbn10Regex   = regexp.MustCompile(`^(?:\d[\d-]{8}[\dX])$`)
	isbn13Regex   = regexp.MustCompile(`^(?:\d[\d-]{12}[\dX])$`)
	htmlTagRegex  = regexp.MustCompile(`<[^>]*>`)
)

// 书籍品相
var listingConditions = map[string]bool{
	"new":      true,
	"like_new": true,
	"good":     true,
	"fair":     true,
	"poor":     true,
}

var customRules = map[string]validator.Func{
	"password":  validatePassword,
	"username":  validateUsername,
	"isbn":      validateISBN,
	"txtype":    validateTransactionType,
	"condition": validateCondition,
}

// 初始化验证器
func init() {
	validate.SetTagName("binding")
	registerRules(validate)
	// gin 的 binding 校验器同样需要注册
	if engine, ok := binding.Validator.Engine().(*validator.Validate); ok {
		registerRules(engine)
	}
}

func registerRules(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)
	for tag, fn := range customRules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register validation %s: %v", tag, err))
		}
	}
}

// jsonFieldName 错误信息中使用json字段名
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}

// Validator 验证器结构
type Validator struct {
	validator *validator.Validate
}

// NewValidator 创建新的验证器实例
func NewValidator() *Validator {
	return &Validator{
		validator: validate,
	}
}

// Validate 验证结构体
func (v *Validator) Validate(obj interface{}) error {
	if err := v.validator.Struct(obj); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

// formatValidationErrors 格式化验证错误信息
func formatValidationErrors(errs []validator.FieldError) error {
	errorMap := make(map[string]string, len(errs))
	for _, err := range errs {
		errorMap[err.Field()] = getErrorMessage(err.Field(), err.Tag(), err.Param())
	}
	return &ValidationError{Errors: errorMap}
}

// ValidationError 验证错误结构
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("Validation failed: %v", ve.Errors)
}

// 中文错误消息映射
var errorMessages = map[string]string{
	"required":         "%s不能为空",
	"required_without": "%s不能为空",
	"email":            "%s格式不正确",
	"url":              "%s必须是有效的链接",
	"min":              "%s长度不能小于%s",
	"max":              "%s长度不能大于%s",
	"gt":               "%s必须大于%s",
	"gte":              "%s必须大于或等于%s",
	"lt":               "%s必须小于%s",
	"lte":              "%s必须小于或等于%s",
	"oneof":            "%s必须是以下值之一: %s",
	"password":         "%s格式不正确，必须包含大小写字母、数字和特殊字符",
	"username":         "%s只能包含字母、数字和下划线，且以字母开头",
	"isbn":             "%s格式不正确",
	"txtype":           "%s必须是 gift、exchange 或 sale",
	"condition":        "%s必须是 new、like_new、good、fair 或 poor",
}

var fieldNames = map[string]string{
	"username":          "用户名",
	"email":             "邮箱",
	"password":          "密码",
	"phone":             "手机号",
	"title":             "标题",
	"price":             "价格",
	"content":           "内容",
	"transaction_type":  "交易类型",
	"condition":         "品相",
	"published_book_id": "书籍",
	"score":             "评分",
}

// getErrorMessage 获取错误消息
func getErrorMessage(field, tag, param string) string {
	fieldName := fieldNames[field]
	if fieldName == "" {
		fieldName = field
	}

	template, exists := errorMessages[tag]
	if !exists {
		return fmt.Sprintf("%s验证失败", fieldName)
	}
	if strings.Count(template, "%s") == 1 {
		return fmt.Sprintf(template, fieldName)
	}
	return fmt.Sprintf(template, fieldName, param)
}

// 自定义验证规则

// validatePassword 密码验证
func validatePassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

// validateUsername 用户名验证
func validateUsername(fl validator.FieldLevel) bool {
	username := fl.Field().String()
	if len(username) < 3 || len(username) > 20 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// validateISBN ISBN验证（ISBN-10 或 ISBN-13，允许为空）
func validateISBN(fl validator.FieldLevel) bool {
	isbn := fl.Field().String()
	if isbn == "" {
		return true
	}
	return isbn10Regex.MatchString(isbn) || isbn13Regex.MatchString(isbn)
}

// validateTransactionType 发布类型验证
func validateTransactionType(fl validator.FieldLevel) bool {
	return models.IsValidTransactionType(fl.Field().String())
}

func validateCondition(fl validator.FieldLevel) bool {
	return listingConditions[fl.Field().String()]
}

// BindAndValidate 绑定并验证请求，返回的校验错误已格式化为 *ValidationError
func BindAndValidate(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

// SanitizeString 移除HTML标签（防止XSS）
func SanitizeString(input string) string {
	return strings.TrimSpace(htmlTagRegex.ReplaceAllString(input, ""))
}
