package metrics

import (
	"context"
	"database/sql"
	"time"
)

// ModelCall 模型调用记录，由调用方填充 Token 数
type ModelCall struct {
	Kind             string // embedding / chat
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// RecordModelCall 执行并记录一次模型调用
func RecordModelCall(kind, model string, fn func(call *ModelCall) error) error {
	call := &ModelCall{Kind: kind, Model: model}
	start := time.Now()

	err := fn(call)

	ModelCallDuration.WithLabelValues(kind, model).Observe(time.Since(start).Seconds())
	if call.PromptTokens > 0 {
		ModelCallTokens.WithLabelValues(model, "prompt").Add(float64(call.PromptTokens))
	}
	if call.CompletionTokens > 0 {
		ModelCallTokens.WithLabelValues(model, "completion").Add(float64(call.CompletionTokens))
	}

	status := "success"
	if err != nil {
		status = "failed"
	}
	ModelCallsTotal.WithLabelValues(kind, model, status).Inc()
	return err
}

// RecordSearch 记录一次检索
func RecordSearch(gate string, duration time.Duration, results int) {
	SearchesTotal.WithLabelValues(gate).Inc()
	SearchDuration.Observe(duration.Seconds())
	SearchResults.Observe(float64(results))
}

// RecordRebuild 记录一次索引重建
func RecordRebuild(err error, duration time.Duration, vectors int) {
	status := "success"
	if err != nil {
		status = "failed"
	} else {
		IndexVectors.Set(float64(vectors))
	}
	IndexRebuildsTotal.WithLabelValues(status).Inc()
	IndexRebuildDuration.Observe(duration.Seconds())
}

// RecordIngestion 记录一次文档入库
func RecordIngestion(err error, chunks int) {
	if err != nil {
		IngestionsTotal.WithLabelValues("failed").Inc()
		return
	}
	IngestionsTotal.WithLabelValues("success").Inc()
	ChunksPerDocument.Observe(float64(chunks))
}

// StatsCollector 定期采集数据库连接与文档统计
type StatsCollector struct {
	db       *sql.DB
	docStats func(ctx context.Context) (map[string]int64, error)
	interval time.Duration
}

// NewStatsCollector 创建采集器，docStats 返回 {状态: 文档数}
func NewStatsCollector(db *sql.DB, docStats func(ctx context.Context) (map[string]int64, error)) *StatsCollector {
	return &StatsCollector{
		db:       db,
		docStats: docStats,
		interval: 30 * time.Second,
	}
}

// Run 阻塞运行直到 ctx 取消
func (c *StatsCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CollectOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce(ctx)
		}
	}
}

// CollectOnce 采集一次
func (c *StatsCollector) CollectOnce(ctx context.Context) {
	if c.db != nil {
		stats := c.db.Stats()
		DBConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
		DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
		DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	}

	if c.docStats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	counts, err := c.docStats(ctx)
	if err != nil {
		return
	}
	for status, n := range counts {
		DocumentsTotal.WithLabelValues(status).Set(float64(n))
	}
}
