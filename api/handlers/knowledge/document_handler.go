package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	response "knowledge-assistant/api/handlers/common"
	"knowledge-assistant/internal/logger"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Ingester 文档入库与删除
type Ingester interface {
	EnqueueDocument(ctx context.Context, doc *rag.Document) (*rag.IngestResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// DocumentReader 文档查询
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]rag.Document, int64, error)
}

// DocumentHandler 文档处理器
type DocumentHandler struct {
	ingester  Ingester
	docs      DocumentReader
	parsers   *parsers.Registry
	maxUpload int64
}

// NewDocumentHandler 创建文档处理器，maxUploadMB<=0 时使用 20MB
func NewDocumentHandler(ingester Ingester, docs DocumentReader, registry *parsers.Registry, maxUploadMB int) *DocumentHandler {
	if registry == nil {
		registry = parsers.NewRegistry()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &DocumentHandler{
		ingester:  ingester,
		docs:      docs,
		parsers:   registry,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

// Create 提交文本文档
// @Summary 提交文档
// @Description 保存文档并分块、向量化；启用队列时异步处理
// @Tags Documents
// @Accept json
// @Produce json
// @Param request body CreateDocumentRequest true "文档"
// @Success 201 {object} response.APIResponse{data=IngestResponse}
// @Success 202 {object} response.APIResponse{data=IngestResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	doc := &rag.Document{
		ID:         req.ID,
		ExternalID: req.ExternalID,
		Title:      strings.TrimSpace(req.Title),
		Content:    req.Content,
		MimeType:   mimeType,
		Metadata:   req.Metadata,
	}
	h.ingest(c, doc)
}

// Upload 上传文件
// @Summary 上传文档文件
// @Description 支持 txt / md / pdf / html，解析为文本后入库
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档文件"
// @Param title formData string false "文档标题"
// @Param external_id formData string false "外部 ID"
// @Success 201 {object} response.APIResponse{data=IngestResponse}
// @Success 202 {object} response.APIResponse{data=IngestResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 415 {object} response.ErrorResponse
// @Router /api/v1/documents/upload [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "未找到上传文件: "+err.Error())
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, response.ErrorResponse{
			Success: false,
			Code:    "TOO_LARGE",
			Message: fmt.Sprintf("文件大小超过限制 %dMB", h.maxUpload>>20),
		})
		return
	}

	text, mimeType, err := h.parsers.Parse(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil && !errors.Is(err, parsers.ErrEmptyDocument) {
		if !errors.Is(err, parsers.ErrUnsupportedType) {
			err = &rag.Error{Kind: rag.KindEmptyInput, Op: "upload.parse", Err: err}
		}
		response.AbortWithError(c, err)
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	doc := &rag.Document{
		ExternalID: c.PostForm("external_id"),
		Title:      title,
		Content:    text,
		MimeType:   mimeType,
		Metadata: map[string]interface{}{
			"file_name": header.Filename,
			"file_size": header.Size,
		},
	}
	h.ingest(c, doc)
}

func (h *DocumentHandler) ingest(c *gin.Context, doc *rag.Document) {
	ctx := c.Request.Context()
	res, err := h.ingester.EnqueueDocument(ctx, doc)
	if err != nil {
		logger.WithContext(ctx).Warn("文档入库失败", zap.String("title", doc.Title), zap.Error(err))
		response.AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if doc.Status == rag.DocumentStatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, response.APIResponse{
		Success: true,
		Message: "文档已提交",
		Data:    toIngestResponse(doc, res),
	})
}

// List 文档列表
// @Summary 文档列表
// @Tags Documents
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.ListResponse
// @Router /api/v1/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	docs, total, err := h.docs.ListDocuments(c.Request.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}

	items := make([]DocumentResponse, len(docs))
	for i := range docs {
		items[i] = toDocumentResponse(&docs[i])
	}
	c.JSON(http.StatusOK, response.ListResponse{
		Items:      items,
		Pagination: response.NewPaginationMeta(page, pageSize, total),
	})
}

// Get 文档详情
// @Summary 文档详情
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} response.APIResponse{data=DocumentResponse}
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.docs.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: toDocumentResponse(doc)})
}

// Delete 删除文档
// @Summary 删除文档及其分块
// @Tags Documents
// @Param id path string true "文档 ID"
// @Success 204
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.ingester.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		response.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes 注册文档路由
func (h *DocumentHandler) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/documents")
	group.POST("", h.Create)
	group.POST("/upload", h.Upload)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.DELETE("/:id", h.Delete)
}
