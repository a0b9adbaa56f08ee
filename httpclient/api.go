package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/health"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
)

func instancePath(service, id string) string {
	return "/v1/instances/" + url.PathEscape(service) + "/" + url.PathEscape(id)
}

// Register 注册实例，返回服务端保存的实例（instance_id 为空时由服务端生成）
func (c *Client) Register(ctx context.Context, req httpapi.RegisterRequest) (*governance.ServiceInstance, error) {
	var inst governance.ServiceInstance
	if err := c.do(ctx, http.MethodPost, "/v1/instances", nil, req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Instance 查询单个实例
func (c *Client) Instance(ctx context.Context, service, id string) (*governance.ServiceInstance, error) {
	var inst governance.ServiceInstance
	if err := c.do(ctx, http.MethodGet, instancePath(service, id), nil, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Deregister 注销实例
func (c *Client) Deregister(ctx context.Context, service, id string) error {
	return c.do(ctx, http.MethodDelete, instancePath(service, id), nil, nil, nil)
}

// Heartbeat 上报心跳
func (c *Client) Heartbeat(ctx context.Context, service, id string) (*governance.ServiceInstance, error) {
	var inst governance.ServiceInstance
	if err := c.do(ctx, http.MethodPut, instancePath(service, id)+"/heartbeat", nil, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// SetStatus 手动设置状态（例如 MAINTENANCE）
func (c *Client) SetStatus(ctx context.Context, service, id string, status governance.Status) (*governance.ServiceInstance, error) {
	var inst governance.ServiceInstance
	body := map[string]string{"status": string(status)}
	if err := c.do(ctx, http.MethodPut, instancePath(service, id)+"/status", nil, body, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Services 已注册的服务名
func (c *Client) Services(ctx context.Context) ([]string, error) {
	var list httpapi.ServiceList
	if err := c.do(ctx, http.MethodGet, "/v1/services", nil, nil, &list); err != nil {
		return nil, err
	}
	return list.Services, nil
}

// Instances 服务的实例列表
func (c *Client) Instances(ctx context.Context, service string, healthyOnly bool) ([]governance.ServiceInstance, error) {
	var query url.Values
	if healthyOnly {
		query = url.Values{"healthy": {"true"}}
	}
	var list httpapi.InstanceList
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+url.PathEscape(service)+"/instances", query, nil, &list); err != nil {
		return nil, err
	}
	return list.Instances, nil
}

// Discover 按策略选出一个健康实例；strategy 为空时使用服务端默认策略
func (c *Client) Discover(ctx context.Context, service, strategy string, tags ...string) (*governance.ServiceInstance, error) {
	query := url.Values{}
	if strategy != "" {
		query.Set("strategy", strategy)
	}
	for _, tag := range tags {
		query.Add("tag", tag)
	}
	var inst governance.ServiceInstance
	if err := c.do(ctx, http.MethodGet, "/v1/discover/"+url.PathEscape(service), query, nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Breakers 熔断器快照
func (c *Client) Breakers(ctx context.Context) ([]breaker.Snapshot, error) {
	var list httpapi.BreakerList
	if err := c.do(ctx, http.MethodGet, "/v1/breakers", nil, nil, &list); err != nil {
		return nil, err
	}
	return list.Breakers, nil
}

// Health 聚合健康检查；unhealthy（503）时同样返回报告
func (c *Client) Health(ctx context.Context) (*health.Response, error) {
	var report health.Response
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		raw, status, err := c.send(ctx, http.MethodGet, "/health", nil, nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK && status != http.StatusServiceUnavailable {
			return &APIError{StatusCode: status, Msg: string(raw)}
		}
		if err := json.Unmarshal(raw, &report); err != nil {
			return fmt.Errorf("decode health report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}
