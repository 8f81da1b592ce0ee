package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	RAG       RagConfig       `mapstructure:"rag" yaml:"rag"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port" yaml:"port"`
	Mode         string `mapstructure:"mode" yaml:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`

	// 问答接口按客户端 IP 限流，qa_rate_limit<=0 关闭
	QARateLimit float64 `mapstructure:"qa_rate_limit" yaml:"qa_rate_limit"`
	QABurst     int     `mapstructure:"qa_burst" yaml:"qa_burst"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path" yaml:"path"`     // sqlite 文件路径或 DSN
	Host            string `mapstructure:"host" yaml:"host"`
	Port            int    `mapstructure:"port" yaml:"port"`
	User            string `mapstructure:"user" yaml:"user"`
	Password        string `mapstructure:"password" yaml:"-"`
	DBName          string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode         string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	LogSQL          bool   `mapstructure:"log_sql" yaml:"log_sql"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode" yaml:"mode"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`

	MasterName       string   `mapstructure:"master_name" yaml:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs" yaml:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password" yaml:"-"`

	ClusterAddrs []string `mapstructure:"cluster_addrs" yaml:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
}

// Addr 单节点地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig 异步任务配置。关闭时入库同步执行。
type QueueConfig struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"`           // json, console
	OutputPath string `mapstructure:"output_path" yaml:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 生成模型配置
type AIConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai" yaml:"openai"`
}

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key" yaml:"-"`
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	OrgID          string  `mapstructure:"org_id" yaml:"org_id"`
	ChatModel      string  `mapstructure:"chat_model" yaml:"chat_model"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// Configured 是否配置了 API Key
func (c *OpenAIConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Timeout 单次生成超时
func (c *OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Model          string `mapstructure:"model" yaml:"model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"-"`
	Dimension      int    `mapstructure:"dimension" yaml:"dimension"`
	BatchSize      int    `mapstructure:"batch_size" yaml:"batch_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	CacheTTL       string `mapstructure:"cache_ttl" yaml:"cache_ttl"` // 如 "168h"
	CachePrefix    string `mapstructure:"cache_prefix" yaml:"cache_prefix"`
}

// CacheTTLDuration 解析缓存过期时间，非法值返回 0（使用默认值）
func (c *EmbeddingConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// RagConfig 检索引擎配置
type RagConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	TopK                int     `mapstructure:"top_k" yaml:"top_k"`
	RelevanceThreshold  float64 `mapstructure:"relevance_threshold" yaml:"relevance_threshold"`
	IndexPath           string  `mapstructure:"index_path" yaml:"index_path"`
	LoadArtifactOnStart bool    `mapstructure:"load_artifact_on_start" yaml:"load_artifact_on_start"`
	RebuildOnStart      bool    `mapstructure:"rebuild_on_start" yaml:"rebuild_on_start"`
	RebuildOnIngest     bool    `mapstructure:"rebuild_on_ingest" yaml:"rebuild_on_ingest"`
	RebuildBatchSize    int     `mapstructure:"rebuild_batch_size" yaml:"rebuild_batch_size"`
	TokenizerModel      string  `mapstructure:"tokenizer_model" yaml:"tokenizer_model"`
}

var globalConfig *Config

// setDefaults 注册默认值，配置文件缺失的键使用这些值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("server.qa_rate_limit", 5)
	v.SetDefault("server.qa_burst", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/knowledge.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.openai.chat_model", "gpt-3.5-turbo")
	v.SetDefault("ai.openai.temperature", 0.7)
	v.SetDefault("ai.openai.max_tokens", 300)
	v.SetDefault("ai.openai.timeout_seconds", 30)
	v.SetDefault("ai.openai.max_retries", 3)

	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("embedding.cache_ttl", "168h")
	v.SetDefault("embedding.cache_prefix", "ka:emb:")

	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 100)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.relevance_threshold", 0.2)
	v.SetDefault("rag.index_path", "./data/faiss_index.bin")
	v.SetDefault("rag.load_artifact_on_start", true)
	v.SetDefault("rag.rebuild_on_start", true)
	v.SetDefault("rag.rebuild_on_ingest", true)
	v.SetDefault("rag.rebuild_batch_size", 500)
	v.SetDefault("rag.tokenizer_model", "gpt-3.5-turbo")
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件: APP_RAG_TOP_K=5
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 未指定路径且找不到文件时只用默认值
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if cfg.AI.OpenAI.APIKey == "" {
		cfg.AI.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.AI.OpenAI.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 校验检索相关参数
func (c *Config) Validate() error {
	r := c.RAG
	switch {
	case r.ChunkSize <= 0:
		return fmt.Errorf("rag.chunk_size 必须大于 0, 当前 %d", r.ChunkSize)
	case r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize:
		return fmt.Errorf("rag.chunk_overlap 必须在 [0, %d) 之间, 当前 %d", r.ChunkSize, r.ChunkOverlap)
	case r.TopK <= 0:
		return fmt.Errorf("rag.top_k 必须大于 0, 当前 %d", r.TopK)
	case r.RelevanceThreshold < 0 || r.RelevanceThreshold > 1:
		return fmt.Errorf("rag.relevance_threshold 必须在 [0, 1] 之间, 当前 %v", r.RelevanceThreshold)
	case c.Embedding.Dimension <= 0:
		return fmt.Errorf("embedding.dimension 必须大于 0, 当前 %d", c.Embedding.Dimension)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s (可选: sqlite, postgres)", c.Database.Driver)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return errors.New("queue.enabled 需要同时启用 redis")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取 postgres 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
