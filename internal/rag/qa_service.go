package rag

import (
	"context"
	"strings"

	"knowledge-assistant/internal/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Source 回答引用的文档及相似度
type Source struct {
	DocumentID      string  `json:"document_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Answer 问答结果
type Answer struct {
	Answer  string      `json:"answer"`
	Sources []Source    `json:"sources"`
	Gate    Gate        `json:"gate"`
	Outcome OutcomeKind `json:"outcome"`
}

// QAService 问答入口: 检索 → 判定 → 合成 → 格式化
type QAService struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	docs        DocumentStore
	logger      *zap.Logger
}

// NewQAService 创建问答服务
func NewQAService(retriever *Retriever, synthesizer *Synthesizer, docs DocumentStore, logger *zap.Logger) *QAService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAService{
		retriever:   retriever,
		synthesizer: synthesizer,
		docs:        docs,
		logger:      logger,
	}
}

// AnswerQuestion 回答问题。只有空问题会返回错误，检索与生成失败都转换为回答文本。
func (s *QAService) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	return s.AnswerQuestionTopK(ctx, question, 0)
}

// AnswerQuestionTopK 指定检索条数回答问题，k<=0 使用默认值
func (s *QAService) AnswerQuestionTopK(ctx context.Context, question string, k int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, newError(KindEmptyInput, "qa.answer", errEmptyQuestion)
	}

	ctx, span := tracer.Start(ctx, "rag.qa.answer")
	defer span.End()

	var outcome Outcome
	retrieval, err := s.retriever.Search(ctx, question, k)
	if err != nil {
		s.logger.Error("检索失败", zap.Error(err))
		span.RecordError(err)
		outcome = Outcome{Kind: OutcomeRetrievalFailed, Err: err}
		retrieval = &Retrieval{Results: []QueryResult{}}
	} else {
		outcome = s.synthesizer.Synthesize(ctx, question, retrieval)
	}

	var titles []string
	if outcome.Kind == OutcomeNoMatch && s.docs != nil {
		titles, err = s.docs.ListTitles(ctx)
		if err != nil {
			s.logger.Warn("查询文档标题失败", zap.Error(err))
			titles = nil
		}
	}

	answer := &Answer{
		Answer:  FormatAnswer(outcome, titles),
		Sources: make([]Source, 0, len(retrieval.Results)),
		Gate:    outcome.Gate,
		Outcome: outcome.Kind,
	}
	for _, r := range retrieval.Results {
		answer.Sources = append(answer.Sources, Source{
			DocumentID:      r.DocumentID,
			SimilarityScore: r.SimilarityScore,
		})
	}

	metrics.AnswersTotal.WithLabelValues(string(outcome.Kind)).Inc()
	span.SetAttributes(
		attribute.String("rag.gate", string(outcome.Gate)),
		attribute.String("rag.outcome", string(outcome.Kind)),
		attribute.Int("rag.sources", len(answer.Sources)),
	)
	return answer, nil
}
