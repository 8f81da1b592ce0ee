package qa

import (
	"context"
	"net/http"
	"strings"

	response "knowledge-assistant/api/handlers/common"
	"knowledge-assistant/internal/logger"
	"knowledge-assistant/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Answerer 问答能力
type Answerer interface {
	AnswerQuestionTopK(ctx context.Context, question string, k int) (*rag.Answer, error)
}

// Handler 问答接口
type Handler struct {
	qa Answerer
}

// NewHandler 创建问答处理器
func NewHandler(qa Answerer) *Handler {
	return &Handler{qa: qa}
}

// QuestionRequest 提问请求
type QuestionRequest struct {
	Question string `json:"question" binding:"required" example:"What is the capital of France?"`
	TopK     int    `json:"top_k,omitempty" example:"3"`
}

// AskResponse 带来源的回答
type AskResponse struct {
	Answer  string       `json:"answer"`
	Sources []rag.Source `json:"sources"`
}

// AnswerResponse 只有回答文本
type AnswerResponse struct {
	Answer string `json:"answer"`
}

// Ask 提问并返回来源
// @Summary 提问（含来源）
// @Description 检索最相关的分块并生成回答，同时返回来源文档与相似度
// @Tags QA
// @Accept json
// @Produce json
// @Param request body QuestionRequest true "问题"
// @Success 200 {object} AskResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/qa/ask [post]
func (h *Handler) Ask(c *gin.Context) {
	answer, ok := h.answer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, AskResponse{Answer: answer.Answer, Sources: answer.Sources})
}

// Answer 提问只返回回答
// @Summary 提问
// @Tags QA
// @Accept json
// @Produce json
// @Param request body QuestionRequest true "问题"
// @Success 200 {object} AnswerResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/qa/answer [post]
func (h *Handler) Answer(c *gin.Context) {
	answer, ok := h.answer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, AnswerResponse{Answer: answer.Answer})
}

func (h *Handler) answer(c *gin.Context) (*rag.Answer, bool) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return nil, false
	}
	if strings.TrimSpace(req.Question) == "" {
		response.BadRequest(c, "问题不能为空")
		return nil, false
	}
	if req.TopK < 0 || req.TopK > 50 {
		response.BadRequest(c, "top_k 必须在 0 到 50 之间")
		return nil, false
	}

	ctx := c.Request.Context()
	answer, err := h.qa.AnswerQuestionTopK(ctx, req.Question, req.TopK)
	if err != nil {
		response.AbortWithError(c, err)
		return nil, false
	}

	logger.WithContext(ctx).Info("问答完成",
		zap.String("gate", string(answer.Gate)),
		zap.String("outcome", string(answer.Outcome)),
		zap.Int("sources", len(answer.Sources)),
	)
	return answer, true
}

// RegisterRoutes 注册问答路由
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/qa")
	group.POST("/ask", h.Ask)
	group.POST("/answer", h.Answer)
}
