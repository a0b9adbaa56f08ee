// Package swagger 挂载管理 API 的 Swagger UI 与 OpenAPI 文档
package swagger

import (
	"fmt"
	"net/http"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
	"go.uber.org/zap"
)

// Manager Swagger 路由管理
type Manager struct {
	config Config
	logger *logger.CtxZapLogger
}

// NewManager 校验配置并把元信息写入已注册的文档
func NewManager(cfg Config, log *logger.CtxZapLogger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("swagger config: %w", err)
	}
	if log == nil {
		log = logger.GetLogger("swagger")
	}
	if cfg.Enabled {
		adminDoc.setInfo(cfg.Info)
	}
	return &Manager{config: cfg, logger: log}, nil
}

// IsEnabled 是否启用
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

// GetConfig 配置副本
func (m *Manager) GetConfig() Config {
	return m.config
}

// Doc 当前文档 JSON
func (m *Manager) Doc() (string, error) {
	doc, err := swag.ReadDoc(InstanceName)
	if err != nil {
		return "", ErrDocNotFound.Wrap(err)
	}
	return doc, nil
}

// RegisterRoutes 注册 UI 与 Spec 路由，未启用时跳过
func (m *Manager) RegisterRoutes(r gin.IRoutes) {
	if !m.config.Enabled {
		m.logger.Debug("Swagger is disabled, skipping route registration")
		return
	}

	r.GET(m.config.UIPath, ginSwagger.WrapHandler(swaggerFiles.Handler, m.buildGinSwaggerOptions()...))
	if m.config.SpecPath != "" {
		r.GET(m.config.SpecPath, m.serveSpec)
	}

	m.logger.Info("📖 Swagger routes registered",
		zap.String("ui_path", m.config.UIPath),
		zap.String("spec_path", m.config.SpecPath))
}

func (m *Manager) buildGinSwaggerOptions() []func(*ginSwagger.Config) {
	opts := []func(*ginSwagger.Config){
		ginSwagger.InstanceName(InstanceName),
		ginSwagger.DeepLinking(m.config.DeepLinking),
		ginSwagger.PersistAuthorization(m.config.PersistAuthorization),
		ginSwagger.DocExpansion(m.config.DocExpansion),
	}
	// UI 从同一服务拉取文档
	if m.config.SpecPath != "" {
		opts = append(opts, ginSwagger.URL(m.config.SpecPath))
	}
	return opts
}

func (m *Manager) serveSpec(c *gin.Context) {
	doc, err := m.Doc()
	if err != nil {
		m.logger.ErrorCtx(c.Request.Context(), "❌ Swagger doc unavailable", zap.Error(err))
		c.JSON(ErrDocNotFound.HTTPStatus(), gin.H{
			"code": ErrDocNotFound.Code(),
			"msg":  ErrDocNotFound.Message(),
		})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}
