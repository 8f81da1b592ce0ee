package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"knowledge-assistant/api"
	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/rag"
	"knowledge-assistant/internal/rag/parsers"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// letterEmbedder 按字母频率生成向量，足够区分测试里的几段文本
type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	vec := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	var sum float32
	for _, v := range vec {
		sum += v
	}
	if sum > 0 {
		for i := range vec {
			vec[i] /= sum
		}
	}
	return vec
}

func (e letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e letterEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (letterEmbedder) Model() string  { return "letters" }
func (letterEmbedder) Dimension() int { return 26 }

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	dsn := fmt.Sprintf("file:kactl_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, rag.AutoMigrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := rag.NewGormStore(db)
	index := rag.NewIndexManager(store, rag.IndexManagerConfig{Dimension: 26, RebuildOnStart: true}, nil)
	embedder := letterEmbedder{}
	retriever := rag.NewRetriever(index, embedder, store, 3, rag.DefaultRelevanceThreshold, nil)
	synth := rag.NewSynthesizer(nil, time.Second, nil)
	services := &api.Services{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Retriever: retriever,
		QA:        rag.NewQAService(retriever, synth, store, nil),
		Ingestion: rag.NewIngestionService(store, store, index, rag.NewChunker(200, 20), embedder, nil, true, nil),
		Registry:  parsers.NewRegistry(),
	}

	var out bytes.Buffer
	return &app{cfg: &config.Config{}, services: services, out: &out}, &out
}

func TestKactl_IngestAndAsk(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "zebra-notes.md")
	require.NoError(t, os.WriteFile(path, []byte("Zebras graze on the savanna."), 0o644))

	require.NoError(t, a.run(ctx, "ingest", []string{path}))
	assert.Contains(t, out.String(), "已导入 zebra-notes.md")
	assert.Contains(t, out.String(), "分块 1")

	doc, err := a.services.Store.FindDocumentByExternalID(ctx, "file:zebra-notes.md")
	require.NoError(t, err)
	assert.Equal(t, "zebra-notes", doc.Title)

	out.Reset()
	require.NoError(t, a.run(ctx, "ask", []string{"Zebras", "graze", "on", "the", "savanna."}))
	assert.Contains(t, out.String(), "Zebras graze on the savanna.")
	assert.Contains(t, out.String(), doc.ID)

	out.Reset()
	require.NoError(t, a.run(ctx, "reindex", nil))
	assert.Contains(t, out.String(), "向量 1")
}

func TestKactl_IngestTwiceKeepsOneDocument(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first version"), 0o644))
	require.NoError(t, a.run(ctx, "ingest", []string{"-title", "Notes", path}))
	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	require.NoError(t, a.run(ctx, "ingest", []string{path}))

	_, total, err := a.services.Store.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, 1, a.services.Index.Size())
}

func TestKactl_ArgumentErrors(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	assert.Error(t, a.run(ctx, "ingest", nil))
	assert.Error(t, a.run(ctx, "ingest", []string{filepath.Join(t.TempDir(), "missing.txt")}))
	assert.Error(t, a.run(ctx, "ask", nil))
	assert.Error(t, a.run(ctx, "unknown", nil))

	unsupported := filepath.Join(t.TempDir(), "sheet.xlsx")
	require.NoError(t, os.WriteFile(unsupported, []byte("x"), 0o644))
	assert.ErrorIs(t, a.run(ctx, "ingest", []string{unsupported}), parsers.ErrUnsupportedType)
}

func TestPrintConfig_OmitsSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.OpenAI.APIKey = "sk-secret"
	cfg.AI.OpenAI.ChatModel = "gpt-4o-mini"
	cfg.RAG.TopK = 3

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, cfg))
	assert.Contains(t, buf.String(), "chat_model: gpt-4o-mini")
	assert.Contains(t, buf.String(), "top_k: 3")
	assert.NotContains(t, buf.String(), "sk-secret")
}
