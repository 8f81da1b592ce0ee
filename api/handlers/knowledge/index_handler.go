package knowledge

import (
	"context"
	"net/http"

	response "knowledge-assistant/api/handlers/common"
	"knowledge-assistant/internal/logger"
	"knowledge-assistant/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IndexService 索引重建与状态
type IndexService interface {
	Rebuild(ctx context.Context) (*rag.IndexSnapshot, error)
	Stats() rag.IndexStats
}

// IndexHandler 索引管理接口
type IndexHandler struct {
	index IndexService
}

// NewIndexHandler 创建索引处理器
func NewIndexHandler(index IndexService) *IndexHandler {
	return &IndexHandler{index: index}
}

// Refresh 从存储全量重建索引
// @Summary 重建索引
// @Tags Index
// @Produce json
// @Success 200 {object} response.APIResponse{data=rag.IndexStats}
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/index/refresh [post]
func (h *IndexHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.index.Rebuild(ctx)
	if err != nil {
		logger.WithContext(ctx).Error("重建索引失败", zap.Error(err))
		response.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Message: "Index refreshed successfully",
		Data: gin.H{
			"vectors":    snap.Index.Size(),
			"generation": snap.Generation,
			"skipped":    snap.Skipped,
		},
	})
}

// Stats 索引状态
// @Summary 索引状态
// @Tags Index
// @Produce json
// @Success 200 {object} response.APIResponse{data=rag.IndexStats}
// @Router /api/v1/index/stats [get]
func (h *IndexHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.index.Stats()})
}

// RegisterRoutes 注册索引路由
func (h *IndexHandler) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/index")
	group.POST("/refresh", h.Refresh)
	group.GET("/stats", h.Stats)
}
