package swagger

import (
	"sync"

	"github.com/swaggo/swag"
)

// InstanceName 文档在 swag 中的注册名（与业务服务自己的 "swagger" 文档区分）
const InstanceName = "meshd"

// document 包装 swag.Spec，元信息可以在运行期安全修改
type document struct {
	mu   sync.RWMutex
	spec *swag.Spec
}

// ReadDoc 实现 swag.Swagger
func (d *document) ReadDoc() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spec.ReadDoc()
}

func (d *document) setInfo(info Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Title = info.Title
	d.spec.Description = info.Description
	d.spec.Version = info.Version
	d.spec.Host = info.Host
	d.spec.BasePath = info.BasePath
}

var adminDoc = &document{spec: &swag.Spec{
	Version:          DefaultInfo().Version,
	BasePath:         DefaultInfo().BasePath,
	Schemes:          []string{},
	Title:            DefaultInfo().Title,
	Description:      DefaultInfo().Description,
	InfoInstanceName: InstanceName,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}}

func init() {
	swag.Register(InstanceName, adminDoc)
}

// docTemplate 管理 API 的 Swagger 2.0 文档
const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "聚合健康检查",
                "produces": ["application/json"],
                "responses": {
                    "200": {
                        "description": "healthy 或 degraded"
                    },
                    "503": {
                        "description": "unhealthy"
                    }
                }
            }
        },
        "/v1/instances": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "tags": ["registry"],
                "summary": "注册或替换实例",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RegisterRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "注册后的实例",
                        "schema": {
                            "$ref": "#/definitions/InstanceResponse"
                        }
                    },
                    "400": {
                        "description": "参数校验失败",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            }
        },
        "/v1/instances/{service}/{id}": {
            "get": {
                "tags": ["registry"],
                "summary": "查询实例",
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "$ref": "#/parameters/id"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "实例",
                        "schema": {
                            "$ref": "#/definitions/InstanceResponse"
                        }
                    },
                    "404": {
                        "description": "实例不存在",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            },
            "delete": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "tags": ["registry"],
                "summary": "注销实例",
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "$ref": "#/parameters/id"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "已注销",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    },
                    "404": {
                        "description": "实例不存在",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            }
        },
        "/v1/instances/{service}/{id}/heartbeat": {
            "put": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "tags": ["registry"],
                "summary": "心跳续约",
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "$ref": "#/parameters/id"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "已续约",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    },
                    "404": {
                        "description": "实例不存在，需要重新注册",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            }
        },
        "/v1/instances/{service}/{id}/status": {
            "put": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "tags": ["registry"],
                "summary": "设置实例状态（进入或退出 MAINTENANCE）",
                "consumes": ["application/json"],
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "$ref": "#/parameters/id"
                    },
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StatusRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "已更新",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            }
        },
        "/v1/services": {
            "get": {
                "tags": ["discovery"],
                "summary": "已注册服务名",
                "responses": {
                    "200": {
                        "description": "服务名列表",
                        "schema": {
                            "$ref": "#/definitions/ServicesResponse"
                        }
                    }
                }
            }
        },
        "/v1/services/{service}/instances": {
            "get": {
                "tags": ["discovery"],
                "summary": "服务下的实例",
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "name": "healthy",
                        "in": "query",
                        "type": "boolean",
                        "description": "只返回 HEALTHY 实例"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "实例列表",
                        "schema": {
                            "$ref": "#/definitions/InstancesResponse"
                        }
                    }
                }
            }
        },
        "/v1/discover/{service}": {
            "get": {
                "tags": ["discovery"],
                "summary": "按负载均衡策略选择一个健康实例",
                "parameters": [
                    {
                        "$ref": "#/parameters/service"
                    },
                    {
                        "name": "strategy",
                        "in": "query",
                        "type": "string",
                        "enum": ["round_robin", "random", "least_connections", "weighted_round_robin"]
                    },
                    {
                        "name": "tag",
                        "in": "query",
                        "type": "array",
                        "items": {
                            "type": "string"
                        },
                        "collectionFormat": "multi"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "选中的实例",
                        "schema": {
                            "$ref": "#/definitions/InstanceResponse"
                        }
                    },
                    "400": {
                        "description": "策略非法",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    },
                    "503": {
                        "description": "没有可用的健康实例",
                        "schema": {
                            "$ref": "#/definitions/Response"
                        }
                    }
                }
            }
        },
        "/v1/breakers": {
            "get": {
                "tags": ["governance"],
                "summary": "熔断器状态快照",
                "responses": {
                    "200": {
                        "description": "熔断器列表",
                        "schema": {
                            "$ref": "#/definitions/BreakersResponse"
                        }
                    }
                }
            }
        }
    },
    "parameters": {
        "service": {
            "name": "service",
            "in": "path",
            "required": true,
            "type": "string"
        },
        "id": {
            "name": "id",
            "in": "path",
            "required": true,
            "type": "string"
        }
    },
    "definitions": {
        "Response": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "msg": {
                    "type": "string"
                },
                "data": {
                    "type": "object"
                }
            }
        },
        "RegisterRequest": {
            "type": "object",
            "required": ["service_name", "host", "port"],
            "properties": {
                "service_name": {
                    "type": "string"
                },
                "instance_id": {
                    "type": "string",
                    "description": "为空时由服务端生成"
                },
                "host": {
                    "type": "string"
                },
                "port": {
                    "type": "integer"
                },
                "weight": {
                    "type": "integer"
                },
                "tags": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "metadata": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "string"
                    }
                },
                "health_check_url": {
                    "type": "string"
                }
            }
        },
        "StatusRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {
                    "type": "string",
                    "enum": ["UNKNOWN", "HEALTHY", "UNHEALTHY", "MAINTENANCE"]
                }
            }
        },
        "ServiceInstance": {
            "type": "object",
            "properties": {
                "service_name": {
                    "type": "string"
                },
                "instance_id": {
                    "type": "string"
                },
                "host": {
                    "type": "string"
                },
                "port": {
                    "type": "integer"
                },
                "weight": {
                    "type": "integer"
                },
                "tags": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "metadata": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "string"
                    }
                },
                "status": {
                    "type": "string"
                },
                "registered_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "last_heartbeat": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "BreakerSnapshot": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "failure_count": {
                    "type": "integer"
                },
                "last_failure_time": {
                    "type": "string",
                    "format": "date-time"
                },
                "rejected": {
                    "type": "integer"
                }
            }
        },
        "InstanceResponse": {
            "allOf": [
                {
                    "$ref": "#/definitions/Response"
                },
                {
                    "properties": {
                        "data": {
                            "$ref": "#/definitions/ServiceInstance"
                        }
                    }
                }
            ]
        },
        "InstancesResponse": {
            "allOf": [
                {
                    "$ref": "#/definitions/Response"
                },
                {
                    "properties": {
                        "data": {
                            "type": "object",
                            "properties": {
                                "instances": {
                                    "type": "array",
                                    "items": {
                                        "$ref": "#/definitions/ServiceInstance"
                                    }
                                }
                            }
                        }
                    }
                }
            ]
        },
        "ServicesResponse": {
            "allOf": [
                {
                    "$ref": "#/definitions/Response"
                },
                {
                    "properties": {
                        "data": {
                            "type": "object",
                            "properties": {
                                "services": {
                                    "type": "array",
                                    "items": {
                                        "type": "string"
                                    }
                                }
                            }
                        }
                    }
                }
            ]
        },
        "BreakersResponse": {
            "allOf": [
                {
                    "$ref": "#/definitions/Response"
                },
                {
                    "properties": {
                        "data": {
                            "type": "object",
                            "properties": {
                                "breakers": {
                                    "type": "array",
                                    "items": {
                                        "$ref": "#/definitions/BreakerSnapshot"
                                    }
                                }
                            }
                        }
                    }
                }
            ]
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`
