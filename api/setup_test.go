package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testDim = 8

// wordEmbedder 词哈希向量，相同文本得到相同的单位向量
type wordEmbedder struct{}

func (wordEmbedder) vector(text string) []float32 {
	vec := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		vec[h.Sum32()%testDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		for i := range vec {
			vec[i] /= float32(math.Sqrt(norm))
		}
	}
	return vec
}

func (e wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (wordEmbedder) Model() string  { return "word-hash" }
func (wordEmbedder) Dimension() int { return testDim }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, rag.AutoMigrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestServices(db *gorm.DB) *Services {
	store := rag.NewGormStore(db)
	index := rag.NewIndexManager(store, rag.IndexManagerConfig{Dimension: testDim}, nil)
	embedder := wordEmbedder{}
	retriever := rag.NewRetriever(index, embedder, store, rag.DefaultTopK, rag.DefaultRelevanceThreshold, nil)
	synth := rag.NewSynthesizer(nil, time.Second, nil)
	return &Services{
		Store:       store,
		Index:       index,
		Embedder:    embedder,
		Retriever:   retriever,
		Synthesizer: synth,
		QA:          rag.NewQAService(retriever, synth, store, nil),
		Ingestion:   rag.NewIngestionService(store, store, index, rag.NewChunker(rag.DefaultChunkSize, rag.DefaultChunkOverlap), embedder, nil, true, nil),
		Registry:    parsers.NewRegistry(),
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	cfg := &config.Config{Server: config.ServerConfig{MaxUploadMB: 1}}
	return SetupRouter(cfg, db, newTestServices(db)), db
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_WelcomeAndHealth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var welcome WelcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &welcome))
	assert.Equal(t, "Welcome to Knowledge Assistant API", welcome.Message)
	assert.Equal(t, "running", welcome.Status)

	w = doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.IndexSize)
}

func TestRouter_HealthReportsClosedDatabase(t *testing.T) {
	r, db := newTestRouter(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"disconnected"`)
}

func TestRouter_IngestThenAsk(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/qa/answer", map[string]string{"question": "What is the capital of France?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "couldn't find any relevant information")

	w = doJSON(t, r, http.MethodPost, "/api/v1/documents", map[string]string{
		"title":   "France",
		"content": "Paris is the capital of France.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/qa/ask", map[string]string{"question": "Paris is the capital of France."})
	require.Equal(t, http.StatusOK, w.Code)
	var ask struct {
		Answer  string       `json:"answer"`
		Sources []rag.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ask))
	require.Len(t, ask.Sources, 1)
	assert.InDelta(t, 1.0, ask.Sources[0].SimilarityScore, 1e-6)
	assert.Contains(t, ask.Answer, "OpenAI API is not configured")
	assert.Contains(t, ask.Answer, "Paris is the capital of France.")

	w = doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Contains(t, w.Body.String(), `"index_size":1`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/index/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"vectors":1`)
}

func TestRouter_SwaggerDoc(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Knowledge Assistant API")
	assert.Contains(t, w.Body.String(), "/api/v1/qa/ask")
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(t, r, http.MethodGet, "/", nil)

	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "knowledge_assistant_api_requests_total")
}

func TestRouter_QARateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	cfg := &config.Config{Server: config.ServerConfig{QARateLimit: 0.001, QABurst: 1}}
	r := SetupRouter(cfg, db, newTestServices(db))

	body := map[string]string{"question": "anything"}
	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodPost, "/api/v1/qa/answer", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, r, http.MethodPost, "/api/v1/qa/ask", body).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/api/v1/documents", nil).Code)
}
