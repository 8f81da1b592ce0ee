package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"knowledge-assistant/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("knowledge-assistant/rag")

// 索引快照来源
const (
	IndexSourceEmpty    = "empty"
	IndexSourceArtifact = "artifact"
	IndexSourceStore    = "store"
)

// ErrIndexClosed 索引已关闭
var ErrIndexClosed = errors.New("索引已关闭")

// IndexManagerConfig 索引管理配置
type IndexManagerConfig struct {
	Dimension           int
	ArtifactPath        string // 为空时不持久化
	LoadArtifactOnStart bool
	RebuildOnStart      bool
	BatchSize           int
}

// IndexSnapshot 某一代索引，发布后只读
type IndexSnapshot struct {
	Index      *FlatIndex
	Generation uint64
	Source     string
	BuiltAt    time.Time
	Skipped    int
}

// IndexStats 索引状态
type IndexStats struct {
	Vectors       int       `json:"vectors"`
	Dimension     int       `json:"dimension"`
	Generation    uint64    `json:"generation"`
	Source        string    `json:"source"`
	BuiltAt       time.Time `json:"builtAt"`
	Skipped       int       `json:"skipped"`
	LastError     string    `json:"lastError,omitempty"`
	LastRebuildMs int64     `json:"lastRebuildMs"`
}

// IndexManager 持有进程内唯一的向量索引。
// 查询通过 Current 拿到不可变快照；重建在 mu 下进行并原子替换快照，
// 入库写操作通过 WithStoreLock 与重建互斥。
type IndexManager struct {
	store    ChunkStore
	artifact *IndexArtifact
	cfg      IndexManagerConfig
	logger   *zap.Logger

	mu         sync.Mutex
	current    atomic.Pointer[IndexSnapshot]
	generation atomic.Uint64
	closed     atomic.Bool

	statsMu     sync.RWMutex
	lastErr     error
	lastElapsed time.Duration
}

// NewIndexManager 创建索引管理器，初始为空索引
func NewIndexManager(store ChunkStore, cfg IndexManagerConfig, logger *zap.Logger) *IndexManager {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &IndexManager{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.ArtifactPath != "" {
		m.artifact = NewIndexArtifact(cfg.ArtifactPath)
	}
	m.publish(NewFlatIndex(cfg.Dimension), IndexSourceEmpty, 0)
	return m
}

// Init 启动时初始化: 可选加载持久化文件，然后按配置从存储重建。
// 加载失败回退为空索引；重建失败保留当前索引并记录日志。
func (m *IndexManager) Init(ctx context.Context) error {
	if m.closed.Load() {
		return ErrIndexClosed
	}

	if m.cfg.LoadArtifactOnStart && m.artifact != nil {
		idx, err := m.artifact.Read(ctx)
		switch {
		case err != nil:
			m.logger.Warn("加载索引文件失败，使用空索引", zap.String("url", m.artifact.URL), zap.Error(err))
		case idx.Dimension() != m.cfg.Dimension:
			m.logger.Warn("索引文件维度与配置不一致，忽略",
				zap.Int("file_dim", idx.Dimension()), zap.Int("dim", m.cfg.Dimension))
		default:
			m.publish(idx, IndexSourceArtifact, 0)
			metrics.IndexVectors.Set(float64(idx.Size()))
			m.logger.Info("已加载索引文件", zap.Int("vectors", idx.Size()))
		}
	}

	if !m.cfg.RebuildOnStart {
		return nil
	}
	if _, err := m.Rebuild(ctx); err != nil {
		m.logger.Error("启动时重建索引失败，继续使用当前索引",
			zap.Uint64("generation", m.Current().Generation), zap.Error(err))
	}
	return nil
}

// Rebuild 从存储全量重建索引，成功后持久化并替换当前快照
func (m *IndexManager) Rebuild(ctx context.Context) (*IndexSnapshot, error) {
	if m.closed.Load() {
		return nil, ErrIndexClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

func (m *IndexManager) rebuildLocked(ctx context.Context) (*IndexSnapshot, error) {
	ctx, span := tracer.Start(ctx, "rag.index.rebuild")
	defer span.End()

	start := time.Now()
	idx, skipped, err := m.build(ctx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRebuild(err, elapsed, 0)
		m.recordStats(err, elapsed)
		return nil, err
	}

	snap := m.publish(idx, IndexSourceStore, skipped)
	metrics.RecordRebuild(nil, elapsed, idx.Size())
	m.recordStats(nil, elapsed)
	span.SetAttributes(
		attribute.Int("rag.index.vectors", idx.Size()),
		attribute.Int("rag.index.skipped", skipped),
	)

	if m.artifact != nil {
		if err := m.artifact.Write(ctx, idx); err != nil {
			// 持久化失败不影响内存中的新索引
			m.logger.Warn("写入索引文件失败", zap.String("url", m.artifact.URL), zap.Error(err))
		}
	}

	m.logger.Info("索引重建完成",
		zap.Int("vectors", idx.Size()),
		zap.Int("skipped", skipped),
		zap.Uint64("generation", snap.Generation),
		zap.Duration("elapsed", elapsed),
	)
	return snap, nil
}

// build 读取全部分块，跳过缺失、无法解码或维度不符的向量
func (m *IndexManager) build(ctx context.Context) (*FlatIndex, int, error) {
	dim := m.cfg.Dimension
	var vectors [][]float32
	var ids []string
	skipped := 0

	err := m.store.IterateChunks(ctx, m.cfg.BatchSize, func(batch []DocumentChunk) error {
		for i := range batch {
			chunk := &batch[i]
			switch {
			case chunk.EmbeddingErr != nil:
				skipped++
				metrics.SkippedEmbeddingsTotal.WithLabelValues("undecodable").Inc()
				m.logger.Warn("分块向量无法解码，跳过", zap.String("chunk_id", chunk.ID), zap.Error(chunk.EmbeddingErr))
			case len(chunk.Embedding) == 0:
				skipped++
				metrics.SkippedEmbeddingsTotal.WithLabelValues("missing").Inc()
				m.logger.Warn("分块缺少向量，跳过", zap.String("chunk_id", chunk.ID))
			case len(chunk.Embedding) != dim:
				skipped++
				metrics.SkippedEmbeddingsTotal.WithLabelValues("dimension_mismatch").Inc()
				m.logger.Warn("分块向量维度不符，跳过",
					zap.String("chunk_id", chunk.ID),
					zap.Int("dimension", len(chunk.Embedding)),
					zap.Int("expected", dim),
				)
			default:
				vectors = append(vectors, []float32(chunk.Embedding))
				ids = append(ids, chunk.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, newError(KindStoreFailure, "index.rebuild", err)
	}

	idx := NewFlatIndex(dim)
	if err := idx.Build(vectors, ids); err != nil {
		return nil, 0, fmt.Errorf("构建索引失败: %w", err)
	}
	return idx, skipped, nil
}

// WithStoreLock 在与重建互斥的前提下执行存储写操作
func (m *IndexManager) WithStoreLock(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// Current 当前索引快照，永不为 nil
func (m *IndexManager) Current() *IndexSnapshot {
	return m.current.Load()
}

// Size 当前索引中的向量数
func (m *IndexManager) Size() int {
	return m.Current().Index.Size()
}

// Dimension 索引维度
func (m *IndexManager) Dimension() int {
	return m.cfg.Dimension
}

// Stats 索引状态
func (m *IndexManager) Stats() IndexStats {
	snap := m.Current()
	stats := IndexStats{
		Vectors:    snap.Index.Size(),
		Dimension:  snap.Index.Dimension(),
		Generation: snap.Generation,
		Source:     snap.Source,
		BuiltAt:    snap.BuiltAt,
		Skipped:    snap.Skipped,
	}

	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	stats.LastRebuildMs = m.lastElapsed.Milliseconds()
	return stats
}

// Close 关闭后不再接受重建，已发布的快照仍可读
func (m *IndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed.Store(true)
	return nil
}

func (m *IndexManager) publish(idx *FlatIndex, source string, skipped int) *IndexSnapshot {
	snap := &IndexSnapshot{
		Index:      idx,
		Generation: m.generation.Add(1),
		Source:     source,
		BuiltAt:    time.Now(),
		Skipped:    skipped,
	}
	m.current.Store(snap)
	return snap
}

func (m *IndexManager) recordStats(err error, elapsed time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.lastErr = err
	m.lastElapsed = elapsed
}
