package api

import (
	_ "knowledge-assistant/api/docs"
	knowledgeHandlers "knowledge-assistant/api/handlers/knowledge"
	qaHandlers "knowledge-assistant/api/handlers/qa"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/metrics"
	"knowledge-assistant/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// SetupRouter 设置并返回 Gin 路由
// @title Knowledge Assistant API
// @version 1.0
// @description 基于向量检索的知识库问答服务
// @BasePath /
func SetupRouter(cfg *config.Config, db *gorm.DB, svc *Services) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(TraceID())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点
	router.GET("/", Welcome())
	router.GET("/health", HealthCheck(db, svc.Index))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	var server config.ServerConfig
	if cfg != nil {
		server = cfg.Server
	}
	qaLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: server.QARateLimit,
		BurstSize:         server.QABurst,
	})

	v1 := router.Group("/api/v1")
	{
		// 每次提问都会调用向量化和生成模型
		qaHandlers.NewHandler(svc.QA).RegisterRoutes(v1.Group("", middleware.RateLimitMiddleware(qaLimiter)))
		knowledgeHandlers.NewDocumentHandler(svc.Ingestion, svc.Store, svc.Registry, server.MaxUploadMB).RegisterRoutes(v1)
		knowledgeHandlers.NewIndexHandler(svc.Index).RegisterRoutes(v1)
	}

	return router
}
