package errcode

import "net/http"

// 模块码
const (
	ModuleCommon    = 10
	ModuleRegistry  = 21
	ModuleDiscovery = 22
	ModuleBreaker   = 23
	ModuleLimiter   = 24
	ModulePool      = 25
	ModuleSwagger   = 80
)

var (
	ErrBadRequest   = Register(New(ModuleCommon, 1, "common", "error.common.bad_request", "请求参数错误", http.StatusBadRequest))
	ErrInternal     = Register(New(ModuleCommon, 2, "common", "error.common.internal", "内部错误", http.StatusInternalServerError))
	ErrUnauthorized = Register(New(ModuleCommon, 3, "common", "error.common.unauthorized", "未授权", http.StatusUnauthorized))
	ErrValidation   = Register(New(ModuleCommon, 4, "common", "error.common.validation_failed", "参数校验失败", http.StatusBadRequest))
	ErrRouteMissing = Register(New(ModuleCommon, 5, "common", "error.common.route_not_found", "路由不存在", http.StatusNotFound))

	ErrInvalidInstance  = Register(New(ModuleRegistry, 1, "registry", "error.registry.invalid_instance", "实例参数非法", http.StatusBadRequest))
	ErrInstanceNotFound = Register(New(ModuleRegistry, 2, "registry", "error.registry.instance_not_found", "实例不存在", http.StatusNotFound))

	ErrInvalidStrategy   = Register(New(ModuleDiscovery, 1, "discovery", "error.discovery.invalid_strategy", "负载均衡策略非法", http.StatusBadRequest))
	ErrNoHealthyInstance = Register(New(ModuleDiscovery, 2, "discovery", "error.discovery.no_healthy_instance", "没有可用的健康实例", http.StatusServiceUnavailable))

	ErrCircuitOpen = Register(New(ModuleBreaker, 1, "breaker", "error.breaker.open", "熔断器已打开", http.StatusServiceUnavailable))

	ErrRateLimited = Register(New(ModuleLimiter, 1, "limiter", "error.limiter.exceeded", "请求过于频繁", http.StatusTooManyRequests))

	ErrPoolExhausted = Register(New(ModulePool, 1, "pool", "error.pool.acquire_timeout", "连接池获取超时", http.StatusServiceUnavailable))
	ErrPoolClosed    = Register(New(ModulePool, 2, "pool", "error.pool.closed", "连接池已关闭", http.StatusServiceUnavailable))
)
