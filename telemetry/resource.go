package telemetry

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// newResource 服务信息 + 自定义属性（值支持 ${ENV} 展开）+ 主机与进程信息
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	}
	for key, value := range cfg.ResourceAttrs {
		attrs = append(attrs, attribute.String(key, os.ExpandEnv(value)))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
	)
	// 部分探测失败（容器内拿不到进程信息等）时仍使用已收集的属性
	if errors.Is(err, resource.ErrPartialResource) {
		return res, nil
	}
	return res, err
}
