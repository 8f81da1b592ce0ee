package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "knowledge_assistant"

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API 请求延迟分布",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_response_size_bytes",
			Help:      "API 响应体大小分布",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 检索指标
var (
	// SearchesTotal 检索次数，按相关性判定分类
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_searches_total",
			Help:      "检索次数",
		},
		[]string{"gate"},
	)

	// SearchDuration 检索耗时（含查询向量化）
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_search_duration_seconds",
			Help:      "检索耗时分布",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// SearchResults 单次检索返回的分块数
	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_search_results",
			Help:      "检索结果数量分布",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// AnswersTotal 问答结果，按回答来源分类
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_answers_total",
			Help:      "问答次数",
		},
		[]string{"outcome"},
	)
)

// 索引与入库指标
var (
	// IndexVectors 当前索引中的向量数
	IndexVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rag_index_vectors",
			Help:      "当前索引中的向量数",
		},
	)

	// IndexRebuildsTotal 索引重建次数
	IndexRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_index_rebuilds_total",
			Help:      "索引重建次数",
		},
		[]string{"status"},
	)

	// IndexRebuildDuration 索引重建耗时
	IndexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_index_rebuild_duration_seconds",
			Help:      "索引重建耗时分布",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// SkippedEmbeddingsTotal 重建时被跳过的分块
	SkippedEmbeddingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_skipped_embeddings_total",
			Help:      "重建索引时跳过的分块数",
		},
		[]string{"reason"},
	)

	// IngestionsTotal 文档入库次数
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_ingestions_total",
			Help:      "文档入库次数",
		},
		[]string{"status"},
	)

	// ChunksPerDocument 每篇文档的分块数
	ChunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_chunks_per_document",
			Help:      "单篇文档分块数分布",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)

	// DocumentsTotal 文档数，按状态
	DocumentsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rag_documents",
			Help:      "文档数",
		},
		[]string{"status"},
	)
)

// 模型调用指标
var (
	// ModelCallsTotal 模型调用次数
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "模型调用次数",
		},
		[]string{"kind", "model", "status"},
	)

	// ModelCallDuration 模型调用耗时
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "模型调用耗时分布",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind", "model"},
	)

	// ModelCallTokens 模型调用 Token 数
	ModelCallTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_call_tokens_total",
			Help:      "模型调用 Token 总数",
		},
		[]string{"model", "type"},
	)
)

// 数据库指标
var (
	// DBConnections 数据库连接数
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "数据库连接数",
		},
		[]string{"state"},
	)
)

// BuildInfo 构建信息
var BuildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "构建信息",
	},
	[]string{"version", "go_version"},
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}
