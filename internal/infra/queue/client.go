package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueIngestDocument(ctx context.Context, documentID string) error
	EnqueueRebuildIndex(ctx context.Context, reason string) error
	Close() error
}

// Enqueuer asynq.Client 中用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type asynqClient struct {
	client Enqueuer
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	return NewClientWith(asynq.NewClient(RedisConnOpt(cfg)))
}

// NewClientWith 使用给定的 Enqueuer 创建客户端
func NewClientWith(enqueuer Enqueuer) Client {
	return &asynqClient{client: enqueuer}
}

// RedisConnOpt 把 Redis 配置转换为 asynq 连接参数
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
}

// IngestOptions 入库任务选项: 重试 3 次，超时 10 分钟
func IngestOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
		asynq.Queue(tasks.QueueRAG),
	}
}

// RebuildOptions 重建任务选项: 1 分钟内只保留一个
func RebuildOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Timeout(30 * time.Minute),
		asynq.Unique(time.Minute),
		asynq.Queue(tasks.QueueRAG),
	}
}

func (c *asynqClient) EnqueueIngestDocument(ctx context.Context, documentID string) error {
	payload, err := json.Marshal(tasks.IngestDocumentPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	task := asynq.NewTask(tasks.TypeIngestDocument, payload)
	if _, err := c.client.EnqueueContext(ctx, task, IngestOptions()...); err != nil {
		return fmt.Errorf("投递入库任务失败: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueRebuildIndex(ctx context.Context, reason string) error {
	payload, err := json.Marshal(tasks.RebuildIndexPayload{Reason: reason})
	if err != nil {
		return fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	task := asynq.NewTask(tasks.TypeRebuildIndex, payload)
	_, err = c.client.EnqueueContext(ctx, task, RebuildOptions()...)
	if err != nil && err != asynq.ErrDuplicateTask {
		return fmt.Errorf("投递重建任务失败: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
