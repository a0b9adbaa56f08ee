package httpapi

import (
	"errors"
	"net/http"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/errcode"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/KOMKZ/go-yogan-mesh/pool"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应格式
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// OkJson 成功响应
func OkJson(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Msg: "success", Data: data})
}

// noRoute 404 统一 JSON
func noRoute(c *gin.Context) {
	le := errcode.ErrRouteMissing.WithMsg("路由不存在: " + c.Request.Method + " " + c.Request.URL.Path)
	c.JSON(le.HTTPStatus(), Response{Code: le.Code(), Msg: le.Message()})
}

// HandleError 把领域错误映射为 LayeredError 并写出响应
func (s *Server) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	le := toLayered(err)

	if s.shouldLog(le) {
		fields := []zap.Field{
			zap.Int("error_code", le.Code()),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		}
		if le.HTTPStatus() >= http.StatusInternalServerError {
			s.logger.ErrorCtx(c.Request.Context(), "request failed", fields...)
		} else {
			s.logger.WarnCtx(c.Request.Context(), "request rejected", fields...)
		}
	}

	var data interface{}
	if len(le.Data()) > 0 {
		data = le.Data()
	}
	c.AbortWithStatusJSON(le.HTTPStatus(), Response{Code: le.Code(), Msg: le.Message(), Data: data})
}

func (s *Server) shouldLog(le *errcode.LayeredError) bool {
	if !s.cfg.ErrorLogging.Enable {
		return false
	}
	return !s.ignoreStatus[le.HTTPStatus()]
}

// toLayered 领域错误 → 错误码；未知错误统一 500，不泄露内部信息
func toLayered(err error) *errcode.LayeredError {
	if le, ok := errcode.As(err); ok {
		return le
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
		return errcode.ErrValidation.WithData("fields", fields)
	}

	switch {
	case errors.Is(err, governance.ErrInvalidServiceName),
		errors.Is(err, governance.ErrInvalidInstanceID),
		errors.Is(err, governance.ErrInvalidPort),
		errors.Is(err, governance.ErrInvalidWeight),
		errors.Is(err, governance.ErrInvalidStatus):
		return errcode.ErrInvalidInstance.WithMsg(err.Error())
	case errors.Is(err, governance.ErrInvalidStrategy):
		return errcode.ErrInvalidStrategy
	case errors.Is(err, mesh.ErrServiceUnavailable):
		return errcode.ErrNoHealthyInstance
	case breaker.IsRejection(err):
		return errcode.ErrCircuitOpen
	case errors.Is(err, limiter.ErrRateLimited):
		return errcode.ErrRateLimited
	case errors.Is(err, pool.ErrAcquireTimeout):
		return errcode.ErrPoolExhausted
	case errors.Is(err, pool.ErrPoolClosed):
		return errcode.ErrPoolClosed
	}
	return errcode.ErrInternal.Wrap(err)
}
