package httpapi

import (
	"net/http"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/errcode"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/health"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gin-gonic/gin"
)

// RegisterRequest 注册请求，字段与 ServiceInstance 一致；instance_id 为空时自动生成
type RegisterRequest struct {
	ServiceName    string            `json:"service_name"`
	InstanceID     string            `json:"instance_id"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Metadata       map[string]string `json:"metadata"`
	Tags           []string          `json:"tags"`
	Weight         int               `json:"weight"`
	HealthCheckURL string            `json:"health_check_url"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ServiceName, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Host, validation.Required),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&r.Weight, validation.Min(0)),
	)
}

// InstanceRef 路径里的实例引用
type InstanceRef struct {
	Service    string `uri:"service"`
	InstanceID string `uri:"id"`
}

// StatusRequest 设置实例状态
type StatusRequest struct {
	InstanceRef
	Status string `json:"status"`
}

func (r StatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.By(func(any) error {
			_, err := governance.ParseStatus(r.Status)
			return err
		})),
	)
}

// ListInstancesRequest 列出服务实例
type ListInstancesRequest struct {
	Service     string `uri:"service"`
	HealthyOnly bool   `form:"healthy"`
}

// DiscoverRequest 发现请求
type DiscoverRequest struct {
	Service  string   `uri:"service"`
	Strategy string   `form:"strategy"`
	Tags     []string `form:"tag"`
}

// Empty 无参数
type Empty struct{}

// InstanceList 实例列表
type InstanceList struct {
	Instances []governance.ServiceInstance `json:"instances"`
}

// ServiceList 服务名列表
type ServiceList struct {
	Services []string `json:"services"`
}

// BreakerList 熔断器快照
type BreakerList struct {
	Breakers []breaker.Snapshot `json:"breakers"`
}

func (s *Server) register(c *gin.Context, req *RegisterRequest) (*governance.ServiceInstance, error) {
	inst := governance.ServiceInstance{
		ServiceName:    req.ServiceName,
		InstanceID:     req.InstanceID,
		Host:           req.Host,
		Port:           req.Port,
		Metadata:       req.Metadata,
		Tags:           req.Tags,
		Weight:         req.Weight,
		HealthCheckURL: req.HealthCheckURL,
	}
	if inst.InstanceID == "" {
		inst.InstanceID = governance.GenerateInstanceID(inst.ServiceName)
	}
	if _, err := s.mesh.Registry.Register(inst); err != nil {
		return nil, err
	}
	return s.lookup(inst.ServiceName, inst.InstanceID)
}

func (s *Server) lookup(service, id string) (*governance.ServiceInstance, error) {
	inst, ok := s.mesh.Registry.GetInstance(service, id)
	if !ok {
		return nil, errcode.ErrInstanceNotFound.WithData("service", service).WithData("instance_id", id)
	}
	return &inst, nil
}

func (s *Server) getInstance(c *gin.Context, req *InstanceRef) (*governance.ServiceInstance, error) {
	return s.lookup(req.Service, req.InstanceID)
}

func (s *Server) deregister(c *gin.Context, req *InstanceRef) (*Empty, error) {
	if !s.mesh.Registry.Deregister(req.Service, req.InstanceID) {
		return nil, errcode.ErrInstanceNotFound
	}
	return &Empty{}, nil
}

func (s *Server) heartbeat(c *gin.Context, req *InstanceRef) (*governance.ServiceInstance, error) {
	if !s.mesh.Registry.Heartbeat(req.Service, req.InstanceID) {
		return nil, errcode.ErrInstanceNotFound
	}
	return s.lookup(req.Service, req.InstanceID)
}

func (s *Server) setStatus(c *gin.Context, req *StatusRequest) (*governance.ServiceInstance, error) {
	status, _ := governance.ParseStatus(req.Status)
	ok, err := s.mesh.Registry.SetStatus(req.Service, req.InstanceID, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.ErrInstanceNotFound
	}
	return s.lookup(req.Service, req.InstanceID)
}

func (s *Server) listServices(c *gin.Context, _ *Empty) (*ServiceList, error) {
	return &ServiceList{Services: s.mesh.Registry.Services()}, nil
}

func (s *Server) listInstances(c *gin.Context, req *ListInstancesRequest) (*InstanceList, error) {
	var instances []governance.ServiceInstance
	if req.HealthyOnly {
		instances = s.mesh.Registry.GetHealthyInstances(req.Service)
	} else {
		instances = s.mesh.Registry.GetInstances(req.Service)
	}
	if instances == nil {
		instances = []governance.ServiceInstance{}
	}
	return &InstanceList{Instances: instances}, nil
}

func (s *Server) discover(c *gin.Context, req *DiscoverRequest) (*governance.ServiceInstance, error) {
	inst, err := s.mesh.Discovery.Discover(c.Request.Context(), req.Service, req.Strategy, req.Tags...)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errcode.ErrNoHealthyInstance.WithData("service", req.Service)
	}
	return inst, nil
}

func (s *Server) listBreakers(c *gin.Context, _ *Empty) (*BreakerList, error) {
	return &BreakerList{Breakers: s.mesh.Breakers.Snapshots()}, nil
}

// health 聚合健康检查；unhealthy 时返回 503
func (s *Server) health(c *gin.Context) {
	resp := s.mesh.Check(c.Request.Context())
	code := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
