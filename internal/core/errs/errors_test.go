package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsValidation(NewValidationError("参数非法")))
	assert.True(t, IsNotFound(NewNotFoundError("不存在")))
	assert.True(t, IsStore(NewStoreError("存储不可用")))

	assert.False(t, IsNotFound(NewValidationError("参数非法")))
	assert.False(t, IsNotFound(errors.New("普通错误")))
	assert.False(t, IsNotFound(nil))
}

func TestErrorPredicates_Wrapped(t *testing.T) {
	// 经过 %w 包装后仍可识别错误代码
	err := fmt.Errorf("更新服务心跳失败: %w", NewNotFoundError("服务实例不存在: x"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestErrorMessage(t *testing.T) {
	err := NewInternalError("序列化失败")
	assert.Equal(t, "序列化失败", err.Error())
	assert.Equal(t, CodeInternal, err.Code)
}
