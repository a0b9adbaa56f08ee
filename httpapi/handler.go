package httpapi

import (
	"github.com/KOMKZ/go-yogan-mesh/errcode"
	"github.com/gin-gonic/gin"
)

// HandlerFunc 泛型 Handler：请求解析与响应由 wrap 处理
type HandlerFunc[Req any, Resp any] func(c *gin.Context, req *Req) (*Resp, error)

// validatable 请求体自带校验
type validatable interface {
	Validate() error
}

// wrap 解析 → 校验 → 业务 → 响应
func wrap[Req any, Resp any](s *Server, handler HandlerFunc[Req, Resp]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if err := parse(c, &req); err != nil {
			s.HandleError(c, err)
			return
		}
		if v, ok := any(&req).(validatable); ok {
			if err := v.Validate(); err != nil {
				s.HandleError(c, err)
				return
			}
		}

		resp, err := handler(c, &req)
		if err != nil {
			s.HandleError(c, err)
			return
		}
		OkJson(c, resp)
	}
}

// parse 依次绑定 uri / query / json body
func parse(c *gin.Context, req interface{}) error {
	// 没有 uri / form tag 时绑定失败是正常的
	_ = c.ShouldBindUri(req)
	_ = c.ShouldBindQuery(req)

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			return errcode.ErrBadRequest.WithMsg("请求体解析失败: " + err.Error()).Wrap(err)
		}
	}
	return nil
}
