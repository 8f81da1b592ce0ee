package aiinterface

import "context"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 消息结构
type Message struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // 消息内容
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"` // 0-2
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p"`
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatClient 对话模型客户端
type ChatClient interface {
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
	// Name 返回客户端名称（如 "openai"）
	Name() string
	Close() error
}

// ClientConfig 客户端配置
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	OrgID      string
	MaxRetries int // 0 表示使用默认值，负数表示不重试
	Timeout    int // 秒
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeInvalidParams ErrorType = "invalid_params"
	ErrorTypeServerError   ErrorType = "server_error"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// ClientError 客户端错误
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 速率限制、网络错误和服务端错误可以重试
func (e *ClientError) IsRetryable() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeNetwork || e.Type == ErrorTypeServerError
}
