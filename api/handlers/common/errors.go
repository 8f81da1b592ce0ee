package common

import (
	"errors"
	"net/http"

	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"

	"github.com/gin-gonic/gin"
)

// StatusForError 按错误分类映射 HTTP 状态码与错误码
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrDocumentNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, parsers.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE"
	case errors.Is(err, rag.ErrIndexClosed):
		return http.StatusServiceUnavailable, "INDEX_CLOSED"
	}

	switch rag.KindOf(err) {
	case rag.KindEmptyInput:
		return http.StatusBadRequest, string(rag.KindEmptyInput)
	case rag.KindDimensionMismatch:
		return http.StatusUnprocessableEntity, string(rag.KindDimensionMismatch)
	case rag.KindStoreFailure:
		return http.StatusInternalServerError, string(rag.KindStoreFailure)
	case "":
		return http.StatusInternalServerError, "INTERNAL"
	default:
		return http.StatusInternalServerError, string(rag.KindOf(err))
	}
}

// AbortWithError 写入错误响应
func AbortWithError(c *gin.Context, err error) {
	status, code := StatusForError(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Code: code, Message: err.Error()})
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Success: false, Code: "BAD_REQUEST", Message: message})
}
