package httpclient

import (
	"fmt"

	"github.com/KOMKZ/go-yogan-mesh/errcode"
)

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Code       int // 业务错误码，0 表示响应不是 API 格式
	Msg        string
	Data       map[string]interface{}
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("HTTP %d: [%d] %s", e.StatusCode, e.Code, e.Msg)
}

// Is 按错误码与 errcode.LayeredError 比较
//
//	errors.Is(err, errcode.ErrInstanceNotFound)
func (e *APIError) Is(target error) bool {
	le, ok := target.(*errcode.LayeredError)
	return ok && e.Code != 0 && le.Code() == e.Code
}
