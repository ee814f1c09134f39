package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrConfigMissing, "配置文件不存在")
	assert.Equal(t, "[CONFIG_MISSING] 配置文件不存在", err.Error())

	wrapped := Wrap(stderrors.New("boom"), ErrFetchFailure, "下载失败")
	assert.Equal(t, "[FETCH_FAILURE] 下载失败: boom", wrapped.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrOutputWrite, "x"))
	assert.Nil(t, Wrapf(nil, ErrOutputWrite, "x %d", 1))
}

func TestIsByCode(t *testing.T) {
	cause := stderrors.New("dial tcp: timeout")
	err := fmt.Errorf("run: %w", Wrapf(cause, ErrFetchFailure, "源 %s", "ads"))

	assert.True(t, HasCode(err, ErrFetchFailure))
	assert.False(t, HasCode(err, ErrConfigMissing))
	assert.Equal(t, ErrFetchFailure, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}
