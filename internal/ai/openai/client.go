package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"knowledge-assistant/internal/metrics"
	"knowledge-assistant/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 对话客户端，兼容任意 OpenAI 协议的服务
type Client struct {
	client     *openai.Client
	modelID    string
	maxRetries int
	backoff    time.Duration
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(config.Timeout) * time.Second}
	}

	maxRetries := config.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 3
	case maxRetries < 0:
		maxRetries = 0
	}

	model := config.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		modelID:    model,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}, nil
}

// ChatCompletion 对话补全，可重试错误按指数退避重试
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
	}

	var resp openai.ChatCompletionResponse
	err := metrics.RecordModelCall("chat", c.modelID, func(call *metrics.ModelCall) error {
		var callErr error
		resp, callErr = c.createWithRetry(ctx, openaiReq)
		if callErr == nil {
			call.PromptTokens = resp.Usage.PromptTokens
			call.CompletionTokens = resp.Usage.CompletionTokens
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) createWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr *aiinterface.ClientError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = wrapError(err)
		if !lastErr.IsRetryable() || attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, wrapError(ctx.Err())
		case <-time.After(c.backoff * time.Duration(1<<uint(attempt))):
		}
	}
	return openai.ChatCompletionResponse{}, lastErr
}

// Model 使用的模型
func (c *Client) Model() string {
	return c.modelID
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "openai"
}

// Close 关闭客户端
func (c *Client) Close() error {
	return nil
}

// wrapError 按 HTTP 状态码和错误类型分类
func wrapError(err error) *aiinterface.ClientError {
	var clientErr *aiinterface.ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	errType := aiinterface.ErrorTypeUnknown
	var netErr net.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = aiinterface.ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		errType = aiinterface.ErrorTypeRateLimit
	case status >= 500:
		errType = aiinterface.ErrorTypeServerError
	case status >= 400:
		errType = aiinterface.ErrorTypeInvalidParams
	case errors.Is(err, context.Canceled):
		errType = aiinterface.ErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		errType = aiinterface.ErrorTypeNetwork
	}

	return &aiinterface.ClientError{
		Type:       errType,
		Message:    "OpenAI API 错误",
		StatusCode: status,
		Err:        err,
	}
}
