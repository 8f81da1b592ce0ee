package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testDim = 16

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rag_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fakeEmbedder 词袋哈希向量，归一化后距离落在 [0, 2]
type fakeEmbedder struct {
	dim int
	err error

	mu    sync.Mutex
	calls int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dim: testDim}
}

func (f *fakeEmbedder) vector(text string) []float32 {
	vec := make([]float32, f.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		w = strings.TrimSuffix(w, "s")
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(f.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-bow" }
func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGenerator 记录提示词并返回预设结果
type fakeGenerator struct {
	text string
	err  error

	system string
	user   string
	calls  int
}

func (g *fakeGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	g.calls++
	g.system = system
	g.user = user
	return g.text, g.err
}

// failingChunkStore 让指定操作失败
type failingChunkStore struct {
	ChunkStore
	iterateErr error
	replaceErr error
	lookupErr  error
}

func (s *failingChunkStore) IterateChunks(ctx context.Context, batchSize int, fn func([]DocumentChunk) error) error {
	if s.iterateErr != nil {
		return s.iterateErr
	}
	return s.ChunkStore.IterateChunks(ctx, batchSize, fn)
}

func (s *failingChunkStore) ReplaceDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	return s.ChunkStore.ReplaceDocument(ctx, doc, chunks)
}

func (s *failingChunkStore) GetChunksByIDs(ctx context.Context, ids []string) (map[string]*DocumentChunk, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.ChunkStore.GetChunksByIDs(ctx, ids)
}

var errBoom = errors.New("boom")

// testEngine 组装一套基于内存 sqlite 的检索引擎
type testEngine struct {
	db        *gorm.DB
	store     *GormStore
	index     *IndexManager
	embedder  *fakeEmbedder
	generator *fakeGenerator
	retriever *Retriever
	ingestion *IngestionService
	qa        *QAService
}

func newTestEngine(t *testing.T, generator Generator) *testEngine {
	t.Helper()
	db := setupTestDB(t)
	store := NewGormStore(db)
	embedder := newFakeEmbedder()
	index := NewIndexManager(store, IndexManagerConfig{Dimension: testDim}, nil)
	retriever := NewRetriever(index, embedder, store, DefaultTopK, DefaultRelevanceThreshold, nil)
	synth := NewSynthesizer(generator, time.Second, nil)

	e := &testEngine{
		db:        db,
		store:     store,
		index:     index,
		embedder:  embedder,
		retriever: retriever,
		ingestion: NewIngestionService(store, store, index, NewChunker(DefaultChunkSize, DefaultChunkOverlap), embedder, nil, true, nil),
		qa:        NewQAService(retriever, synth, store, nil),
	}
	if g, ok := generator.(*fakeGenerator); ok {
		e.generator = g
	}
	return e
}

func (e *testEngine) ingest(t *testing.T, title, content string) *Document {
	t.Helper()
	doc := &Document{Title: title, Content: content, MimeType: "text/plain"}
	_, err := e.ingestion.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	return doc
}
