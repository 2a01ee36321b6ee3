package errs

import "errors"

// 定义错误代码
const (
	// CodeValidation 请求参数非法
	CodeValidation = iota + 1
	// CodeNotFound 资源不存在
	CodeNotFound
	// CodeStore 底层存储不可用
	CodeStore
	// CodeService 外部服务调用失败
	CodeService
	// CodeInternal 内部错误
	CodeInternal
)

// Error 定义服务发现组件可能返回的错误类型
type Error struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *Error) Error() string {
	return e.Message
}

// NewValidationError 创建参数非法错误
func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// NewStoreError 创建存储错误
func NewStoreError(message string) *Error {
	return &Error{Code: CodeStore, Message: message}
}

// NewServiceError 创建外部服务错误
func NewServiceError(message string) *Error {
	return &Error{Code: CodeService, Message: message}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// codeOf 提取错误代码，非本包错误返回0
func codeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsValidation 判断是否为参数非法错误
func IsValidation(err error) bool {
	return codeOf(err) == CodeValidation
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return codeOf(err) == CodeNotFound
}

// IsStore 判断是否为存储错误
func IsStore(err error) bool {
	return codeOf(err) == CodeStore
}
