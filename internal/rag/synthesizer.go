package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant/pkg/aiinterface"

	"go.uber.org/zap"
)

const systemPrompt = "You are a helpful assistant that provides natural, conversational responses. " +
	"Avoid phrases like 'Based on the context' or 'According to the documents'. " +
	"Instead, answer directly and confidently when you have the information, " +
	"and simply state when you don't have enough information."

const userPromptTemplate = `You are a helpful AI assistant. Use the following information to answer the question naturally and conversationally, as if you're having a direct dialogue. Don't refer to "the context" or "the documents" in your response. If you can't find the answer in the provided information, simply say "I don't have enough information to answer this question."

Information:
%s

Question: %s

Remember to answer naturally and directly, without mentioning the source of your information.`

// OutcomeKind 回答的来源
type OutcomeKind string

const (
	OutcomeGenerated            OutcomeKind = "generated"
	OutcomeFallbackError        OutcomeKind = "fallback_error"
	OutcomeFallbackUnconfigured OutcomeKind = "fallback_unconfigured"
	OutcomeNoMatch              OutcomeKind = "no_match"
	OutcomeLowRelevance         OutcomeKind = "low_relevance"
	OutcomeRetrievalFailed      OutcomeKind = "retrieval_failed"
)

// Outcome 合成结果，由最外层转换为面向用户的文本
type Outcome struct {
	Kind OutcomeKind
	Gate Gate
	Text string       // 仅 OutcomeGenerated 时有值
	Top  *QueryResult // 兜底时使用的最相关分块
	Err  error        // 生成或检索失败的原因
}

// Generator 文本生成能力
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrGeneratorUnconfigured 未配置生成模型
var ErrGeneratorUnconfigured = errors.New("生成模型未配置")

// ChatGenerator 基于对话模型客户端的 Generator
type ChatGenerator struct {
	client      aiinterface.ChatClient
	temperature float64
	maxTokens   int
}

// NewChatGenerator 创建生成器。client 为 nil 时返回 nil，表示未配置。
func NewChatGenerator(client aiinterface.ChatClient, temperature float64, maxTokens int) *ChatGenerator {
	if client == nil {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &ChatGenerator{client: client, temperature: temperature, maxTokens: maxTokens}
}

// Complete 发送 system + user 两条消息
func (g *ChatGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	if g == nil || g.client == nil {
		return "", ErrGeneratorUnconfigured
	}
	resp, err := g.client.ChatCompletion(ctx, &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{
			{Role: aiinterface.RoleSystem, Content: system},
			{Role: aiinterface.RoleUser, Content: user},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Synthesizer 根据检索结果生成回答，生成失败时回退为最相关分块原文
type Synthesizer struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewSynthesizer 创建回答合成器。generator 为 nil 表示未配置生成模型。
func NewSynthesizer(generator Generator, timeout time.Duration, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{generator: generator, timeout: timeout, logger: logger}
}

// Synthesize 按判定结果合成回答，从不返回错误
func (s *Synthesizer) Synthesize(ctx context.Context, question string, retrieval *Retrieval) Outcome {
	top, ok := retrieval.Top()
	if !ok || retrieval.Gate == GateNoMatch {
		return Outcome{Kind: OutcomeNoMatch, Gate: GateNoMatch}
	}
	if retrieval.Gate == GateLowRelevance {
		return Outcome{Kind: OutcomeLowRelevance, Gate: retrieval.Gate, Top: &top}
	}

	if s.generator == nil || isNilGenerator(s.generator) {
		return Outcome{Kind: OutcomeFallbackUnconfigured, Gate: retrieval.Gate, Top: &top}
	}

	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prompt := BuildUserPrompt(BuildContext(retrieval.Results), question)
	text, err := s.generator.Complete(genCtx, systemPrompt, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("生成结果为空")
	}
	if err != nil {
		if errors.Is(err, ErrGeneratorUnconfigured) {
			return Outcome{Kind: OutcomeFallbackUnconfigured, Gate: retrieval.Gate, Top: &top}
		}
		s.logger.Warn("生成回答失败，返回最相关分块", zap.Error(err))
		return Outcome{
			Kind: OutcomeFallbackError,
			Gate: retrieval.Gate,
			Top:  &top,
			Err:  newError(KindGenerationFailure, "synthesizer.generate", err),
		}
	}

	return Outcome{Kind: OutcomeGenerated, Gate: retrieval.Gate, Text: strings.TrimSpace(text), Top: &top}
}

// isNilGenerator 处理装在接口里的 nil *ChatGenerator
func isNilGenerator(g Generator) bool {
	cg, ok := g.(*ChatGenerator)
	return ok && cg == nil
}

// BuildContext 拼接检索结果，附带相似度
func BuildContext(results []QueryResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Relevant text (similarity: %.2f):\n%s", r.SimilarityScore, r.Content)
	}
	return strings.Join(parts, "\n\n")
}

// BuildUserPrompt 填充用户提示词模板
func BuildUserPrompt(contextText, question string) string {
	return fmt.Sprintf(userPromptTemplate, contextText, question)
}

// SystemPrompt 固定的系统提示词
func SystemPrompt() string {
	return systemPrompt
}

// FormatAnswer 把合成结果转换为面向用户的文本。titles 仅在无匹配时使用。
func FormatAnswer(o Outcome, titles []string) string {
	switch o.Kind {
	case OutcomeGenerated:
		return o.Text
	case OutcomeNoMatch:
		var b strings.Builder
		b.WriteString("I couldn't find any relevant information in the documents. Here are the documents I have access to:\n")
		for _, title := range titles {
			b.WriteString("- ")
			b.WriteString(title)
			b.WriteString("\n")
		}
		return b.String()
	case OutcomeLowRelevance:
		return "While I found some documents, they don't seem to contain very relevant information about your question. Here's what I found:\n\n" + topContent(o)
	case OutcomeFallbackError:
		return "I found some potentially relevant information, but couldn't generate a proper answer due to an API error. Here's the most relevant content I found:\n\n" + topContent(o)
	case OutcomeFallbackUnconfigured:
		return "I found some potentially relevant information, but the OpenAI API is not configured. Here's the most relevant content:\n\n" + topContent(o)
	case OutcomeRetrievalFailed:
		return "I encountered an error while processing your request. Please try again later."
	default:
		return "I don't have enough information to answer this question."
	}
}

func topContent(o Outcome) string {
	if o.Top == nil {
		return ""
	}
	return o.Top.Content
}
