package swagger

import (
	"net/http"

	"github.com/KOMKZ/go-yogan-mesh/errcode"
)

var (
	ErrDocNotFound = errcode.Register(errcode.New(errcode.ModuleSwagger, 1, "swagger", "error.swagger.doc_not_found", "接口文档不存在", http.StatusInternalServerError))
)
