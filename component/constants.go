package component

// 组件名称常量
const (
	ComponentRegistry  = "registry"
	ComponentDiscovery = "discovery"
	ComponentBreaker   = "breaker"
	ComponentLimiter   = "limiter"
	ComponentPool      = "pool"
	ComponentEvent     = "event"
	ComponentTelemetry = "telemetry"
	ComponentHTTP      = "http_api"
	ComponentDNS       = "dns_api"
	ComponentMirror    = "mirror"
)
