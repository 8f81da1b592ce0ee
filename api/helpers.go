package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"knowledge-assistant/internal/infra"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const serviceName = "knowledge-assistant"

// WelcomeResponse 根路径响应
type WelcomeResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Database  string `json:"database"`
	IndexSize int    `json:"index_size"`
	Reason    string `json:"reason,omitempty"`
}

// IndexSizer 当前索引中的向量数
type IndexSizer interface {
	Size() int
}

// Welcome 根路径
// @Summary 服务信息
// @Tags System
// @Produce json
// @Success 200 {object} WelcomeResponse
// @Router / [get]
func Welcome() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, WelcomeResponse{
			Message: "Welcome to Knowledge Assistant API",
			Status:  "running",
		})
	}
}

// HealthCheck 健康检查
// @Summary 服务健康检查
// @Description 返回数据库连通性与当前索引大小，可供监控探针使用
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func HealthCheck(db *gorm.DB, index IndexSizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Status: "healthy", Service: serviceName, Database: "connected"}
		if index != nil {
			resp.IndexSize = index.Size()
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := infra.HealthCheck(ctx, db); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "disconnected"
			resp.Reason = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
