package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weavehub/weave/internal/model"
)

const (
	redisThreadsKey  = "weave:threads"
	redisMessagesKey = "weave:messages"
	redisRunsKey     = "weave:runs"
)

// redisAdapter keeps one hash per collection, field per thread, JSON payload
// per field. Same full-rewrite semantics as the SQL adapters.
type redisAdapter struct {
	client *redis.Client
}

func OpenRedis(addr string, db int) (Adapter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisAdapter{client: client}, nil
}

// NewRedisWithClient wraps an existing client. Tests hand in a client bound
// to a miniredis instance.
func NewRedisWithClient(client *redis.Client) Adapter {
	return &redisAdapter{client: client}
}

func (a *redisAdapter) SaveThread(ctx context.Context, thread model.Thread) error {
	payload, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := a.client.HSet(ctx, redisThreadsKey, thread.ID, string(payload)).Err(); err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

func (a *redisAdapter) DeleteThread(ctx context.Context, threadID string) error {
	pipe := a.client.TxPipeline()
	pipe.HDel(ctx, redisThreadsKey, threadID)
	pipe.HDel(ctx, redisMessagesKey, threadID)
	pipe.HDel(ctx, redisRunsKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

func (a *redisAdapter) SaveMessages(ctx context.Context, threadID string, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	if err := a.client.HSet(ctx, redisMessagesKey, threadID, string(payload)).Err(); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

func (a *redisAdapter) SaveRuns(ctx context.Context, threadID string, runs []model.Run) error {
	payload, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("marshal runs: %w", err)
	}
	if err := a.client.HSet(ctx, redisRunsKey, threadID, string(payload)).Err(); err != nil {
		return fmt.Errorf("save runs: %w", err)
	}
	return nil
}

func (a *redisAdapter) Load(ctx context.Context) (Snapshot, error) {
	snapshot := EmptySnapshot()

	threads, err := a.client.HGetAll(ctx, redisThreadsKey).Result()
	if err != nil {
		return snapshot, fmt.Errorf("load threads: %w", err)
	}
	for _, payload := range threads {
		var thread model.Thread
		if err := json.Unmarshal([]byte(payload), &thread); err != nil {
			return snapshot, fmt.Errorf("decode thread: %w", err)
		}
		snapshot.Threads = append(snapshot.Threads, thread)
	}

	messages, err := a.client.HGetAll(ctx, redisMessagesKey).Result()
	if err != nil {
		return snapshot, fmt.Errorf("load messages: %w", err)
	}
	for threadID, payload := range messages {
		var decoded []model.Message
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return snapshot, fmt.Errorf("decode messages: %w", err)
		}
		snapshot.MessagesByThread[threadID] = decoded
	}

	runs, err := a.client.HGetAll(ctx, redisRunsKey).Result()
	if err != nil {
		return snapshot, fmt.Errorf("load runs: %w", err)
	}
	for threadID, payload := range runs {
		var decoded []model.Run
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return snapshot, fmt.Errorf("decode runs: %w", err)
		}
		snapshot.RunsByThread[threadID] = decoded
	}

	return snapshot, nil
}

func (a *redisAdapter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
