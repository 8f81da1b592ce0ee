package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"knowledge-assistant/internal/config"
	"knowledge-assistant/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks  []*asynq.Task
	opts   [][]asynq.Option
	err    error
	closed bool
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error {
	f.closed = true
	return nil
}

func optionTypes(opts []asynq.Option) map[asynq.OptionType]interface{} {
	out := make(map[asynq.OptionType]interface{}, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestEnqueueIngestDocument(t *testing.T) {
	fake := &fakeEnqueuer{}
	c := NewClientWith(fake)

	require.NoError(t, c.EnqueueIngestDocument(context.Background(), "doc-1"))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, tasks.TypeIngestDocument, fake.tasks[0].Type())

	var p tasks.IngestDocumentPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &p))
	assert.Equal(t, "doc-1", p.DocumentID)

	opts := optionTypes(fake.opts[0])
	assert.Equal(t, 3, opts[asynq.MaxRetryOpt])
	assert.Equal(t, tasks.QueueRAG, opts[asynq.QueueOpt])

	require.NoError(t, c.Close())
	assert.True(t, fake.closed)
}

func TestEnqueueRebuildIndex(t *testing.T) {
	fake := &fakeEnqueuer{}
	c := NewClientWith(fake)
	require.NoError(t, c.EnqueueRebuildIndex(context.Background(), "manual"))
	assert.Contains(t, optionTypes(fake.opts[0]), asynq.UniqueOpt)

	// 重复任务视为成功
	fake.err = asynq.ErrDuplicateTask
	assert.NoError(t, c.EnqueueRebuildIndex(context.Background(), "manual"))

	fake.err = errors.New("redis down")
	assert.Error(t, c.EnqueueRebuildIndex(context.Background(), "manual"))
	assert.Error(t, c.EnqueueIngestDocument(context.Background(), "doc-1"))
}

func TestRedisConnOpt(t *testing.T) {
	opt := RedisConnOpt(config.RedisConfig{Host: "redis", Port: 6380, DB: 2})
	std, ok := opt.(asynq.RedisClientOpt)
	require.True(t, ok)
	assert.Equal(t, "redis:6380", std.Addr)
	assert.Equal(t, 2, std.DB)

	_, ok = RedisConnOpt(config.RedisConfig{Mode: "cluster", ClusterAddrs: []string{"a:1"}}).(asynq.RedisClusterClientOpt)
	assert.True(t, ok)
	_, ok = RedisConnOpt(config.RedisConfig{Mode: "sentinel", MasterName: "m"}).(asynq.RedisFailoverClientOpt)
	assert.True(t, ok)
}
